// Package oscap drives the OpenSCAP scanner for complyscan.
//
// The package wraps the `oscap` command line tool and the rpm queries the
// compliance workflow depends on. Every command is built as an argument list
// and executed through a process.Runner, so nothing is ever interpreted by a
// shell.
//
// # Main Components
//
// ## Scan Execution
//
//   - BuildCommand: compose `oscap xccdf eval` for one profile
//   - Engine.RunScan: run the scan with TZ=UTC and classify its exit code
//
// Exit codes 0 and 2 (the host is not compliant) both mean the results file
// is valid. A process killed by the OOM killer (-9, seen as 247 when the
// status is truncated to a byte) and every other non-zero code are fatal.
//
// ## Content Lookup
//
//   - Engine.ProfileFiles: data streams for the host's OS major version
//   - Engine.FindPolicyDocument: the data stream declaring a profile
//
// A profile that no data stream mentions is skipped. A search that matches
// but yields no usable data stream path is fatal.
//
// ## Package Inventory
//
//   - Engine.AssertPackages: required scanner packages are installed
//   - Engine.EngineVersion: installed scap-security-guide version
//
// # Usage
//
//	engine := oscap.NewEngine(runner, oscap.Options{
//		ContentDir:      "/usr/share/xml/scap/ssg/content/",
//		DatastreamsPath: "/usr/share/xml/scap/",
//		OSMajorVersion:  "8",
//	}, logger)
//
//	doc, err := engine.FindPolicyDocument(ctx, refID)
//	if err != nil {
//		return err
//	}
//	if err := engine.RunScan(ctx, refID, doc, resultsPath, tailoringPath); err != nil {
//		return err
//	}
package oscap
