package protocol

import (
	"fmt"
	"strings"
)

// Operation names a client command; execution failures carry it.
type Operation string

const (
	OpStartJob          Operation = "start_job"
	OpMonitorJob        Operation = "monitor_job"
	OpSuspendJob        Operation = "suspend_job"
	OpResumeJob         Operation = "resume_job"
	OpSetJobPriority    Operation = "set_job_priority"
	OpSetUpdateInterval Operation = "set_update_interval"
	OpCompleteJob       Operation = "complete_job"
	OpCancelJob         Operation = "cancel_job"
)

// Failure is implemented by every execution failure. An execution failure
// means the driver rejected one request; the transport is still healthy.
type Failure interface {
	error
	Operation() Operation
}

func failureMessage(op Operation, reason fmt.Stringer, detail string, cause error) string {
	var b strings.Builder
	b.WriteString(string(op))
	b.WriteString(" failed: ")
	b.WriteString(reason.String())
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	if cause != nil {
		b.WriteString(": ")
		b.WriteString(cause.Error())
	}
	return b.String()
}

func reasonName(names []string, r int) string {
	if r > 0 && r < len(names) {
		return names[r]
	}
	return fmt.Sprintf("reason(%d)", r)
}

type StartJobReason int

const (
	StartJobArgumentValidation StartJobReason = iota + 1
	StartJobCreate
	StartJobApplySettings
	StartJobResume
	StartJobOther
)

func (r StartJobReason) String() string {
	return reasonName([]string{"", "argument_validation", "create", "apply_settings", "resume", "other"}, int(r))
}

type StartJobFailure struct {
	Reason StartJobReason
	Detail string
	Err    error
}

func (f *StartJobFailure) Error() string {
	return failureMessage(OpStartJob, f.Reason, f.Detail, f.Err)
}
func (f *StartJobFailure) Unwrap() error        { return f.Err }
func (f *StartJobFailure) Operation() Operation { return OpStartJob }

type MonitorJobReason int

const (
	MonitorJobArgumentValidation MonitorJobReason = iota + 1
	MonitorJobNotFound
	MonitorJobGetJob
	MonitorJobOther
)

func (r MonitorJobReason) String() string {
	return reasonName([]string{"", "argument_validation", "not_found", "get_job", "other"}, int(r))
}

type MonitorJobFailure struct {
	Reason MonitorJobReason
	Detail string
	Err    error
}

func (f *MonitorJobFailure) Error() string {
	return failureMessage(OpMonitorJob, f.Reason, f.Detail, f.Err)
}
func (f *MonitorJobFailure) Unwrap() error        { return f.Err }
func (f *MonitorJobFailure) Operation() Operation { return OpMonitorJob }

type SuspendJobReason int

const (
	SuspendJobNotFound SuspendJobReason = iota + 1
	SuspendJobInvalidState
	SuspendJobSuspend
	SuspendJobOther
)

func (r SuspendJobReason) String() string {
	return reasonName([]string{"", "not_found", "invalid_state", "suspend", "other"}, int(r))
}

type SuspendJobFailure struct {
	Reason SuspendJobReason
	Detail string
	Err    error
}

func (f *SuspendJobFailure) Error() string {
	return failureMessage(OpSuspendJob, f.Reason, f.Detail, f.Err)
}
func (f *SuspendJobFailure) Unwrap() error        { return f.Err }
func (f *SuspendJobFailure) Operation() Operation { return OpSuspendJob }

type ResumeJobReason int

const (
	ResumeJobNotFound ResumeJobReason = iota + 1
	ResumeJobInvalidState
	ResumeJobResume
	ResumeJobOther
)

func (r ResumeJobReason) String() string {
	return reasonName([]string{"", "not_found", "invalid_state", "resume", "other"}, int(r))
}

type ResumeJobFailure struct {
	Reason ResumeJobReason
	Detail string
	Err    error
}

func (f *ResumeJobFailure) Error() string {
	return failureMessage(OpResumeJob, f.Reason, f.Detail, f.Err)
}
func (f *ResumeJobFailure) Unwrap() error        { return f.Err }
func (f *ResumeJobFailure) Operation() Operation { return OpResumeJob }

type SetJobPriorityReason int

const (
	SetJobPriorityNotFound SetJobPriorityReason = iota + 1
	SetJobPriorityApplySettings
	SetJobPriorityOther
)

func (r SetJobPriorityReason) String() string {
	return reasonName([]string{"", "not_found", "apply_settings", "other"}, int(r))
}

type SetJobPriorityFailure struct {
	Reason SetJobPriorityReason
	Detail string
	Err    error
}

func (f *SetJobPriorityFailure) Error() string {
	return failureMessage(OpSetJobPriority, f.Reason, f.Detail, f.Err)
}
func (f *SetJobPriorityFailure) Unwrap() error        { return f.Err }
func (f *SetJobPriorityFailure) Operation() Operation { return OpSetJobPriority }

type SetUpdateIntervalReason int

const (
	SetUpdateIntervalArgumentValidation SetUpdateIntervalReason = iota + 1
	SetUpdateIntervalNotFound
	SetUpdateIntervalOther
)

func (r SetUpdateIntervalReason) String() string {
	return reasonName([]string{"", "argument_validation", "not_found", "other"}, int(r))
}

// SetUpdateIntervalFailure is returned by both SetUpdateInterval and
// StopUpdate.
type SetUpdateIntervalFailure struct {
	Reason SetUpdateIntervalReason
	Detail string
	Err    error
}

func (f *SetUpdateIntervalFailure) Error() string {
	return failureMessage(OpSetUpdateInterval, f.Reason, f.Detail, f.Err)
}
func (f *SetUpdateIntervalFailure) Unwrap() error        { return f.Err }
func (f *SetUpdateIntervalFailure) Operation() Operation { return OpSetUpdateInterval }

type CompleteJobReason int

const (
	CompleteJobNotFound CompleteJobReason = iota + 1
	CompleteJobInvalidState
	CompleteJobComplete
	CompleteJobOther
)

func (r CompleteJobReason) String() string {
	return reasonName([]string{"", "not_found", "invalid_state", "complete", "other"}, int(r))
}

type CompleteJobFailure struct {
	Reason CompleteJobReason
	Detail string
	Err    error
}

func (f *CompleteJobFailure) Error() string {
	return failureMessage(OpCompleteJob, f.Reason, f.Detail, f.Err)
}
func (f *CompleteJobFailure) Unwrap() error        { return f.Err }
func (f *CompleteJobFailure) Operation() Operation { return OpCompleteJob }

type CancelJobReason int

const (
	CancelJobNotFound CancelJobReason = iota + 1
	CancelJobInvalidState
	CancelJobCancel
	CancelJobOther
)

func (r CancelJobReason) String() string {
	return reasonName([]string{"", "not_found", "invalid_state", "cancel", "other"}, int(r))
}

type CancelJobFailure struct {
	Reason CancelJobReason
	Detail string
	Err    error
}

func (f *CancelJobFailure) Error() string {
	return failureMessage(OpCancelJob, f.Reason, f.Detail, f.Err)
}
func (f *CancelJobFailure) Unwrap() error        { return f.Err }
func (f *CancelJobFailure) Operation() Operation { return OpCancelJob }

var (
	_ Failure = (*StartJobFailure)(nil)
	_ Failure = (*MonitorJobFailure)(nil)
	_ Failure = (*SuspendJobFailure)(nil)
	_ Failure = (*ResumeJobFailure)(nil)
	_ Failure = (*SetJobPriorityFailure)(nil)
	_ Failure = (*SetUpdateIntervalFailure)(nil)
	_ Failure = (*CompleteJobFailure)(nil)
	_ Failure = (*CancelJobFailure)(nil)
)
