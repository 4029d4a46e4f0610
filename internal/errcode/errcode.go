// Copyright 2017 Intel Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package errcode defines the fixed error-kind to exit-code mapping the
// front end surfaces, and a small wrapper that keeps a pkg/errors stack
// trace attached to each one.
package errcode

import (
	"github.com/pkg/errors"
)

// Code is one of the fixed error kinds exposed to the front end.
type Code int

// The error codes the CLI surface maps to exit codes.
const (
	CurrentVersion Code = iota + 1
	MoMNotFound
	RecurseManifest
	BundleNotTracked
	BundleRemove
	BundleInstall
	Init
)

var names = map[Code]string{
	CurrentVersion:   "ECURRENT_VERSION",
	MoMNotFound:      "EMOM_NOTFOUND",
	RecurseManifest:  "ERECURSE_MANIFEST",
	BundleNotTracked: "EBUNDLE_NOT_TRACKED",
	BundleRemove:     "EBUNDLE_REMOVE",
	BundleInstall:    "EBUNDLE_INSTALL",
	Init:             "EINIT",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "EUNKNOWN"
}

// Error is a typed, wrapped error carrying one of the fixed Codes. The front
// end maps Code() to the process exit status.
type Error struct {
	code  Code
	cause error
}

// Wrap builds an Error of the given code around cause, with msg providing
// the rejecting rule or failing step (e.g. "bundle not tracked").
func Wrap(code Code, cause error, msg string) *Error {
	return &Error{code: code, cause: errors.Wrap(cause, msg)}
}

// New builds an Error of the given code with only a message, no prior cause.
func New(code Code, msg string) *Error {
	return &Error{code: code, cause: errors.New(msg)}
}

// Code returns the fixed error kind, for mapping to an exit status.
func (e *Error) Code() int { return int(e.code) }

func (e *Error) Error() string {
	return e.code.String() + ": " + e.cause.Error()
}

// Unwrap allows errors.Is/As to see through to the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }
