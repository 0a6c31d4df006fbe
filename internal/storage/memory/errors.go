package memory

import "errors"

var errBlobNotFound = errors.New("memory: blob not found")

var errAccountExists = errors.New("memory: account already exists")
