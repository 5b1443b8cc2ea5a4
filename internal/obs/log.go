package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

// The service emits one JSON object per line on stdout. A plain *log.Logger
// is enough: callers assemble the fields and the logger only serializes the
// write, so tests can redirect the output without a framework in between.
var sharedLogger = sync.OnceValue(func() *log.Logger {
	return log.New(os.Stdout, "", 0)
})

// Logger returns the process-wide line logger.
func Logger() *log.Logger {
	return sharedLogger()
}

// LogRequest marshals the fields of one completed request into a single log
// line. A marshal failure still produces a parseable error line rather than
// silence.
func LogRequest(fields map[string]any) {
	data, err := json.Marshal(fields)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"request log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
