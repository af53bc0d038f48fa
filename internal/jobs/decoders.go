package jobs

import (
	"fmt"
	"strings"

	"github.com/fivetwenty-io/cloudcall/internal/constants"
	"github.com/fivetwenty-io/cloudcall/pkg/cloudcall"
)

// Cloud Foundry v3 job states.
const (
	cfJobProcessing = "PROCESSING"
	cfJobPolling    = "POLLING"
	cfJobComplete   = "COMPLETE"
	cfJobFailed     = "FAILED"
)

type cfJob struct {
	GUID   string `json:"guid"`
	State  string `json:"state"`
	Errors []struct {
		Code   int    `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// CFJobDecoder reads Cloud Foundry v3 job resources. A complete job's
// result is the job resource itself.
var CFJobDecoder = cloudcall.StatusDecoderFunc(func(res *cloudcall.Result) (cloudcall.StatusReport, error) {
	var job cfJob

	err := res.Decode(&job)
	if err != nil {
		return cloudcall.StatusReport{}, err
	}

	switch strings.ToUpper(job.State) {
	case cfJobProcessing, cfJobPolling:
		return cloudcall.StatusReport{Status: cloudcall.JobInProgress}, nil
	case cfJobComplete:
		return cloudcall.StatusReport{Status: cloudcall.JobSucceeded, Result: res.Value}, nil
	case cfJobFailed:
		return cloudcall.StatusReport{Status: cloudcall.JobFailed, Error: cfJobError(job)}, nil
	default:
		return cloudcall.StatusReport{}, fmt.Errorf("%w: job state %q", constants.ErrUnexpectedPayload, job.State)
	}
})

func cfJobError(job cfJob) *cloudcall.JobError {
	if len(job.Errors) == 0 {
		return &cloudcall.JobError{Message: "no error details available"}
	}

	if len(job.Errors) == 1 {
		return &cloudcall.JobError{Message: job.Errors[0].Detail}
	}

	var message strings.Builder

	message.WriteString("multiple errors:")

	for i, jobErr := range job.Errors {
		fmt.Fprintf(&message, "\n  %d. %s", i+1, jobErr.Detail)
	}

	return &cloudcall.JobError{Message: message.String()}
}
