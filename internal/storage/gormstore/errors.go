package gormstore

import "errors"

var errBlobNotFound = errors.New("gormstore: blob not found")

var errAccountExists = errors.New("gormstore: account already exists")
