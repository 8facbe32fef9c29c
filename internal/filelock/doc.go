// Package filelock tracks advisory claims on action targets while phases of
// a plan run in parallel.
//
// Two phases that declare actions on the same target should not run at the
// same time. Before the scheduler starts a phase it claims every target the
// phase declares; a phase whose claims collide with a running phase waits
// for a later group. Claims are released when the phase finishes.
//
// Claims compare target strings literally. They are a heuristic for
// spotting obvious overlap, not a guarantee against resource contention:
// two different paths may still name the same file, and a task may touch
// files it never declared.
//
//	reg := filelock.NewRegistry()
//
//	err := reg.ClaimAll("phase-2-api", []string{"src/routes.go", "src/auth.go"})
//	claim, ok := reg.Lookup("src/routes.go")
//	reg.ReleaseAll("phase-2-api")
//
// A Registry is safe for concurrent use.
package filelock
