// Copyright 2026 The AnomalyTrigger Authors. SPDX-License-Identifier: Apache-2.0

// Package fsutil has the file system helpers used to resolve configured paths.
package fsutil

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// FileExists returns whether the file or directory exists, or an error if the file system failed.
func FileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, errors.Wrapf(err, "failed to stat %q", path)
}

// ExpandHome replaces a leading "~" or "~user" in path by the home directory of the current (or named)
// user. Other paths, including glob patterns, are returned unchanged.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	var userName string
	if path != "~" && !strings.HasPrefix(path, "~/") {
		userName, _, _ = strings.Cut(path[1:], "/")
	}
	var (
		usr *user.User
		err error
	)
	if userName == "" {
		usr, err = user.Current()
	} else {
		usr, err = user.Lookup(userName)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to lookup home directory for %q", path)
	}
	return filepath.Join(usr.HomeDir, path[1+len(userName):]), nil
}

// ExpandHomeAll applies ExpandHome to each of the paths in place, stopping at the first error.
func ExpandHomeAll(paths ...*string) error {
	for _, p := range paths {
		expanded, err := ExpandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}
