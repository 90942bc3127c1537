package reconcile

import (
	"context"
	"fmt"

	"labelloop/internal/services"
	"labelloop/internal/services/labelstudio"
)

// KindRemoteLookupFailure names the error kind carried by RemoteLookupError.
const KindRemoteLookupFailure = "RemoteLookupFailure"

// TaskLister lists every task of a project.
type TaskLister interface {
	ListTasks(ctx context.Context, projectID int) ([]labelstudio.Task, error)
}

// RemoteLookupError reports that the existing tasks of a project could not be
// read. It matches services.ErrRemoteLookup with errors.Is.
type RemoteLookupError struct {
	ProjectID int
	Err       error
}

func (e *RemoteLookupError) Error() string {
	return fmt.Sprintf("%s: list tasks for project %d: %v", KindRemoteLookupFailure, e.ProjectID, e.Err)
}

// Kind returns the error kind.
func (e *RemoteLookupError) Kind() string { return KindRemoteLookupFailure }

func (e *RemoteLookupError) Unwrap() []error {
	return []error{services.ErrRemoteLookup, e.Err}
}

// Collect lists the project's tasks and returns their filenames. Any listing
// failure is returned as *RemoteLookupError with a nil set.
func Collect(ctx context.Context, lister TaskLister, projectID int) (FilenameSet, error) {
	if lister == nil {
		return nil, &RemoteLookupError{ProjectID: projectID, Err: fmt.Errorf("no task lister configured")}
	}
	tasks, err := lister.ListTasks(ctx, projectID)
	if err != nil {
		return nil, &RemoteLookupError{ProjectID: projectID, Err: err}
	}
	return RemoteFilenames(tasks), nil
}
