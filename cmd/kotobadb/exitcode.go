package main

import (
	"github.com/kotobadb/core/internal/kerr"
	"github.com/kotobadb/core/internal/query"
)

// Exit codes per §6 "CLI surface": 0 success, 2 usage error, 3
// validation failure, 4 conflict, 5 I/O, 6 timeout.
const (
	exitOK         = 0
	exitUsage      = 2
	exitValidation = 3
	exitConflict   = 4
	exitIO         = 5
	exitTimeout    = 6
)

// exitCodeFor maps a returned error's kerr.Kind to the process exit code
// a cobra command's Execute failure should produce. Errors outside the
// taxonomy (cobra usage errors, plain fmt.Errorf) default to exitUsage,
// since they are almost always a malformed invocation.
func exitCodeFor(err error) int {
	if qe, ok := err.(query.QueryError); ok {
		err = qe.AsKerr()
	}
	switch {
	case kerr.MatchKind(err, kerr.KindTimeout):
		return exitTimeout
	case kerr.MatchKind(err, kerr.KindConflict), kerr.MatchKind(err, kerr.KindVersionConflict):
		return exitConflict
	case kerr.MatchKind(err, kerr.KindStorageIO):
		return exitIO
	case kerr.MatchKind(err, kerr.KindCanonicalization),
		kerr.MatchKind(err, kerr.KindGraphInvariant),
		kerr.MatchKind(err, kerr.KindStoragePlan),
		kerr.MatchKind(err, kerr.KindInvalidTx),
		kerr.MatchKind(err, kerr.KindExecution),
		kerr.MatchKind(err, kerr.KindQuery),
		kerr.MatchKind(err, kerr.KindAuthzDenied):
		return exitValidation
	default:
		return exitUsage
	}
}
