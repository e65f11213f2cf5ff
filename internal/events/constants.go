package events

import "time"

const (
	// ResultStreamName is the JetStream stream holding published check results
	ResultStreamName = "CHECK_RESULTS"
	resultSubjectAll = "check.result.*"
	resultSubjectFmt = "check.result.%s"

	DefaultStreamMaxAge = 24 * time.Hour
	streamMaxMsgs       = -1
)
