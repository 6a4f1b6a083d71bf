package configs

import (
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/golang/glog"
)

func DPrintf(format string, a ...interface{}) {
	if ShowDebugInfo {
		glog.InfoDepth(1, time.Now().Format("15:04:05.00")+" <---> "+fmt.Sprintf(format, a...))
	}
}

func TPrintf(format string, a ...interface{}) {
	if ShowTestInfo {
		glog.InfoDepth(1, time.Now().Format("15:04:05.00")+" <---> "+fmt.Sprintf(format, a...))
	}
}

func TimeTrack(start time.Time, name string) {
	TPrintf("Time cost for %s : %s", name, time.Since(start).String())
}

func JToString(v interface{}) string {
	byt, err := json.Marshal(v)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(byt)
}

// Assert panics with an assertion failure when cond does not hold.
func Assert(cond bool, msg string) bool {
	if !cond {
		panic(errors.AssertionFailedf("%s", msg))
	}
	return cond
}

func CheckError(err error) {
	if err != nil {
		glog.FatalDepth(1, err.Error())
	}
}
