// Copyright (c) Qualcomm Technologies, Inc. and/or its subsidiaries.
// SPDX-License-Identifier: BSD-3-Clause-Clear

package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp is a point in time stored as unix microseconds. Microsecond
// resolution keeps it usable as an optimistic concurrency token.
type Timestamp int64

const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

func Now() Timestamp {
	return NewTimestamp(time.Now())
}

func (t Timestamp) ToTime() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

func (t Timestamp) String() string {
	return t.ToTime().Format(timestampLayout)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp: %w", err)
	}
	*t = NewTimestamp(parsed)
	return nil
}

// Target is the firmware component a FOTA job updates.
type Target string

const (
	TargetApp        Target = "app"
	TargetModem      Target = "modem"
	TargetBoot       Target = "boot"
	TargetSoftdevice Target = "softdevice"
	TargetBootloader Target = "bootloader"
)

type JobStatus string

const (
	JobStatusNew        JobStatus = "NEW"
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusSucceeded  JobStatus = "SUCCEEDED"
	JobStatusFailed     JobStatus = "FAILED"
)

var TerminalJobStatuses = []string{string(JobStatusSucceeded), string(JobStatusFailed)}

func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// UpgradePath maps a firmware version, or a semver range, to the bundle
// that upgrades a device reporting it.
type UpgradePath map[string]string

// UsedVersions maps a reported version to the bundle already issued for it.
type UsedVersions map[string]string

// JobKey is the key of the active slot of a device and target.
func JobKey(deviceId string, target Target) string {
	return deviceId + "#" + string(target)
}

// ArchiveKey is the composite key a terminal job is filed under.
func ArchiveKey(deviceId string, target Target, status JobStatus, ts Timestamp) string {
	return fmt.Sprintf("%s#%s#%s#%s", deviceId, target, status, ts)
}

// Job is one multi-bundle firmware update of a device target.
type Job struct {
	Id                 string       `json:"id"`
	Pk                 string       `json:"pk"`
	DeviceId           string       `json:"deviceId"`
	Target             Target       `json:"target"`
	Account            string       `json:"account"`
	Status             JobStatus    `json:"status"`
	StatusDetail       string       `json:"statusDetail"`
	ReportedVersion    string       `json:"reportedVersion"`
	UsedVersions       UsedVersions `json:"usedVersions"`
	UpgradePath        UpgradePath  `json:"upgradePath"`
	UpdateAppliedToken string       `json:"-"`
	Timestamp          Timestamp    `json:"timestamp"`
	Ttl                Timestamp    `json:"ttl"`
}

type JobUpdate struct {
	Status          JobStatus
	StatusDetail    string
	ReportedVersion string
	UsedVersions    UsedVersions
}

// NRFCloudJobStatus is the status of a job on the device-management service.
type NRFCloudJobStatus string

const (
	NRFCloudJobQueued      NRFCloudJobStatus = "QUEUED"
	NRFCloudJobInProgress  NRFCloudJobStatus = "IN_PROGRESS"
	NRFCloudJobDownloading NRFCloudJobStatus = "DOWNLOADING"
	NRFCloudJobFailed      NRFCloudJobStatus = "FAILED"
	NRFCloudJobCancelled   NRFCloudJobStatus = "CANCELLED"
	NRFCloudJobCompleted   NRFCloudJobStatus = "COMPLETED"
	NRFCloudJobSucceeded   NRFCloudJobStatus = "SUCCEEDED"
	NRFCloudJobTimedOut    NRFCloudJobStatus = "TIMED_OUT"
	NRFCloudJobRejected    NRFCloudJobStatus = "REJECTED"
)

var (
	OpenNRFCloudJobStatuses = []string{
		string(NRFCloudJobQueued),
		string(NRFCloudJobInProgress),
		string(NRFCloudJobDownloading),
	}
	TerminalNRFCloudJobStatuses = []string{
		string(NRFCloudJobFailed),
		string(NRFCloudJobCancelled),
		string(NRFCloudJobCompleted),
		string(NRFCloudJobSucceeded),
		string(NRFCloudJobTimedOut),
		string(NRFCloudJobRejected),
	}
)

func (s NRFCloudJobStatus) IsTerminal() bool {
	for _, t := range TerminalNRFCloudJobStatuses {
		if string(s) == t {
			return true
		}
	}
	return false
}

func (s NRFCloudJobStatus) IsSuccess() bool {
	return s == NRFCloudJobCompleted || s == NRFCloudJobSucceeded
}

// NRFCloudJob tracks one bundle job created on the device-management service
// on behalf of a Job.
type NRFCloudJob struct {
	JobId           string            `json:"jobId"`
	ParentJobId     string            `json:"parentJobId"`
	Account         string            `json:"account"`
	DeviceId        string            `json:"deviceId"`
	Status          NRFCloudJobStatus `json:"status"`
	StatusDetail    string            `json:"statusDetail"`
	Firmware        string            `json:"firmware"`
	Target          string            `json:"target"`
	CreatedAt       Timestamp         `json:"createdAt"`
	LastUpdatedAt   Timestamp         `json:"lastUpdatedAt"`
	NextUpdateAt    Timestamp         `json:"nextUpdateAt"`
	CompletionToken string            `json:"-"`
}

type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionTimedOut  ExecutionStatus = "TIMED_OUT"
	ExecutionAborted   ExecutionStatus = "ABORTED"
)

// Execution is the persisted state of a durable workflow run.
type Execution struct {
	Id        string
	Flow      string
	State     string
	Step      int
	Status    ExecutionStatus
	Data      json.RawMessage
	Error     string
	Cause     string
	StartedAt Timestamp
	Deadline  Timestamp
	UpdatedAt Timestamp
	// FailPending is set with a failed status until the failure handler of
	// the flow succeeded.
	FailPending bool
}

type WaitStatus string

const (
	WaitPending   WaitStatus = "PENDING"
	WaitSucceeded WaitStatus = "SUCCEEDED"
	WaitFailed    WaitStatus = "FAILED"
	WaitCancelled WaitStatus = "CANCELLED"
)

// ExecutionWait is a suspension point of an execution, resumed by its token.
type ExecutionWait struct {
	Token       string
	ExecutionId string
	Step        int
	Name        string
	Status      WaitStatus
	Deadline    Timestamp
	Output      json.RawMessage
	Error       string
	Cause       string
}
