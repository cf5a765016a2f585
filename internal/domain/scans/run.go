package scans

// RunRequest for the scan Engine.
type RunRequest struct {
	URL   string
	Depth Depth
}

// RunResult is what the engine hands back on success. Screenshot and HTML are
// raw bytes; the orchestrator uploads them and stores refs on the ScanRun.
type RunResult struct {
	LoadTimeMS    int64
	Findings      []RawFinding
	JSErrors      []string
	NetworkErrors []string
	ConsoleLogs   []string
	HTML          []byte
	Screenshot    []byte
}
