package report

import (
	"encoding/xml"
	"fmt"
	"strings"
)

type junitSuites struct {
	XMLName  xml.Name     `xml:"testsuites"`
	Name     string       `xml:"name,attr"`
	Tests    int          `xml:"tests,attr"`
	Failures int          `xml:"failures,attr"`
	Skipped  int          `xml:"skipped,attr"`
	Time     string       `xml:"time,attr"`
	Suites   []junitSuite `xml:"testsuite"`
}

type junitSuite struct {
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Skipped   int             `xml:"skipped,attr"`
	Time      string          `xml:"time,attr"`
	Timestamp string          `xml:"timestamp,attr"`
	Cases     []junitTestCase `xml:"testcase"`
	SystemErr string          `xml:"system-err,omitempty"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Skipped   *junitMessage `xml:"skipped,omitempty"`
	SystemOut string        `xml:"system-out,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// JUnit renders the report as JUnit XML, one testcase per scenario.
func JUnit(r *Report) ([]byte, error) {
	s := r.Summary()
	suite := junitSuite{
		Name:      "funnelcheck",
		Tests:     s.Total,
		Failures:  s.Failed,
		Skipped:   s.Skipped,
		Time:      fmt.Sprintf("%.3f", r.Duration().Seconds()),
		Timestamp: r.Started.UTC().Format("2006-01-02T15:04:05"),
		SystemErr: r.LogTail,
	}
	for _, res := range r.Results {
		tc := junitTestCase{
			Name:      res.Name,
			ClassName: "funnelcheck." + res.Kind,
			Time:      fmt.Sprintf("%.3f", res.Duration.Seconds()),
		}
		var out []string
		out = append(out, res.Notes...)
		if res.Screenshot != "" {
			out = append(out, "screenshot: "+res.Screenshot)
		}
		switch res.Status {
		case StatusFailed:
			tc.Failure = &junitMessage{Message: firstLine(res.Error), Body: res.Error}
		case StatusSkipped:
			tc.Skipped = &junitMessage{Message: res.Error}
		}
		tc.SystemOut = strings.Join(out, "\n")
		suite.Cases = append(suite.Cases, tc)
	}

	doc := junitSuites{
		Name:     "funnelcheck",
		Tests:    suite.Tests,
		Failures: suite.Failures,
		Skipped:  suite.Skipped,
		Time:     suite.Time,
		Suites:   []junitSuite{suite},
	}
	b, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render junit: %w", err)
	}
	return append([]byte(xml.Header), append(b, '\n')...), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
