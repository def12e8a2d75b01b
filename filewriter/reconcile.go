package filewriter

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"

	"github.com/bec-fabric/bec/cmn/nlog"
	"github.com/bec-fabric/bec/msg"
)

// Reconcile walks the local base path at startup and cross-checks every
// master file found on disk against its announced done/successful state
// in the broker, logging (and re-announcing) any master file that was
// written but never got its final announcement - the crash-recovery gap
// between "write committed" and "announce committed" that §4.7's
// announce-before-publish protocol leaves if the process dies mid-write.
func (s *Sink) Reconcile(ctx context.Context, localBaseDir string) error {
	return godirwalk.Walk(localBaseDir, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || filepath.Base(path) != "master" {
				return nil
			}
			scanID := scanIDFromMasterPath(localBaseDir, path)
			if scanID == "" {
				return nil
			}
			raw, ok, err := s.b.Get(ctx, msg.EP.PublicFile(scanID, "master"))
			if err != nil {
				return err
			}
			if !ok {
				nlog.Warningf("filewriter: master file on disk for scan %s has no broker announcement, re-announcing", scanID)
				return s.announce(ctx, scanID, path, true, true)
			}
			env, err := msg.Decode(raw)
			if err != nil {
				return err
			}
			done, _ := env.Content["done"].(bool)
			if !done {
				nlog.Warningf("filewriter: master file on disk for scan %s was never marked done, re-announcing", scanID)
				return s.announce(ctx, scanID, path, true, true)
			}
			return nil
		},
		Unsorted: true,
	})
}

// scanIDFromMasterPath recovers the scanID path component written by
// commit's fmt.Sprintf("%s/%s/master", basePath, scanID) layout.
func scanIDFromMasterPath(baseDir, path string) string {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 {
		return ""
	}
	return parts[0]
}
