package settings

// Settings holds the ntfsparse run options.
type Settings struct {
	FileRecord  int64  // record number to dump, -1 when unset
	SearchPath  string // path to resolve
	DumpReparse bool   // dump the $Reparse index

	FetchFile bool // extract all streams of the selected record
	ListDepth int  // directory recursion depth; 0 disables, -1 unbounded

	Quiet   bool   // discard diagnostics
	LogFile string // diagnostics destination
}

// DefaultLogFile receives diagnostics unless overridden.
const DefaultLogFile = "!logfile-ntfsparser"

func Default() Settings {
	return Settings{
		FileRecord: -1,
		ListDepth:  0,
		LogFile:    DefaultLogFile,
	}
}
