package domain

import "errors"

// ErrSnapshotMismatch is returned when before/after snapshots disagree on
// kind or identity. The event is unusable; the pipeline logs and drops it.
var ErrSnapshotMismatch = errors.New("domain: snapshot kind/id mismatch") //nolint:gochecknoglobals // sentinel error

// ErrUnknownKind is returned for payloads whose entity kind is not in the
// closed enumeration.
var ErrUnknownKind = errors.New("domain: unknown entity kind") //nolint:gochecknoglobals // sentinel error

// ErrEmptySnapshot is returned when an operation requires at least one
// non-nil snapshot side.
var ErrEmptySnapshot = errors.New("domain: both snapshots absent") //nolint:gochecknoglobals // sentinel error
