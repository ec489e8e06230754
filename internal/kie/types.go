package kie

import (
	"encoding/json"
	"fmt"
)

// TaskState is the normalized lifecycle of a remote task.
type TaskState string

const (
	TaskStatePending TaskState = "pending"
	TaskStateSuccess TaskState = "success"
	TaskStateFail    TaskState = "fail"
)

// TaskStatus is the parsed result of a status lookup.
type TaskStatus struct {
	TaskID         string
	State          TaskState
	ResultURLs     []string
	FailureMessage string
}

// FirstResultURL returns the first produced image, if any.
func (s *TaskStatus) FirstResultURL() (string, bool) {
	if s == nil || len(s.ResultURLs) == 0 || s.ResultURLs[0] == "" {
		return "", false
	}
	return s.ResultURLs[0], true
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data T      `json:"data"`
}

type createTaskRequest struct {
	Model string          `json:"model"`
	Input createTaskInput `json:"input"`
}

type createTaskInput struct {
	Prompt       string   `json:"prompt"`
	ImageInput   []string `json:"image_input"`
	AspectRatio  string   `json:"aspect_ratio"`
	Resolution   string   `json:"resolution"`
	OutputFormat string   `json:"output_format"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type recordInfoData struct {
	TaskID     string `json:"taskId"`
	State      string `json:"state"`
	ResultJSON string `json:"resultJson"`
	FailMsg    string `json:"failMsg"`
}

type resultPayload struct {
	ResultURLs []string `json:"resultUrls"`
}

func parseRecordInfo(taskID string, data recordInfoData) (*TaskStatus, error) {
	status := &TaskStatus{
		TaskID:         taskID,
		State:          normalizeState(data.State),
		FailureMessage: data.FailMsg,
	}

	if data.ResultJSON != "" {
		var result resultPayload
		if err := json.Unmarshal([]byte(data.ResultJSON), &result); err != nil {
			return nil, fmt.Errorf("decode resultJson for task %s: %w", taskID, err)
		}
		status.ResultURLs = result.ResultURLs
	}

	return status, nil
}

func normalizeState(state string) TaskState {
	switch state {
	case "success":
		return TaskStateSuccess
	case "fail", "failed":
		return TaskStateFail
	default:
		return TaskStatePending
	}
}
