package model

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// IsTerminal reports whether no further transitions are allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

type JobKind string

const (
	JobKindBatch      JobKind = "batch"
	JobKindRefinement JobKind = "refinement"
)

// ReferenceKind selects which session slot an upload fills.
type ReferenceKind string

const (
	ReferenceSwatch     ReferenceKind = "swatch"
	ReferenceSilhouette ReferenceKind = "silhouette"
)

// ParseReferenceKind treats anything other than "silhouette" as a swatch.
func ParseReferenceKind(s string) ReferenceKind {
	if s == string(ReferenceSilhouette) {
		return ReferenceSilhouette
	}
	return ReferenceSwatch
}

// Bucket is the object store bucket for uploads of this kind.
func (k ReferenceKind) Bucket() string {
	if k == ReferenceSilhouette {
		return "silhouettes"
	}
	return "swatches"
}
