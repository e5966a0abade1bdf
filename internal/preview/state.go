package preview

// Status is the tag of a ViewState.
type Status int

const (
	StatusLoading Status = iota
	StatusUnauthorized
	StatusNotFound
	StatusFetchFailed
	StatusLoaded
)

func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusUnauthorized:
		return "unauthorized"
	case StatusNotFound:
		return "not_found"
	case StatusFetchFailed:
		return "fetch_failed"
	case StatusLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// User-facing messages. Unauthorized deliberately does not say which check failed.
const (
	MsgUnauthorized = "Unauthorized preview."
	MsgNotFound     = "Article not found."
	MsgFetchFailed  = "Failed to fetch article."
)

// ViewState is exactly one of Loading, Unauthorized, NotFound, FetchFailed or
// Loaded. Message is set for the three error states, Article only for Loaded.
type ViewState struct {
	Status  Status
	Message string
	Article *Article
}

func LoadingState() ViewState { return ViewState{Status: StatusLoading} }
func UnauthorizedState() ViewState {
	return ViewState{Status: StatusUnauthorized, Message: MsgUnauthorized}
}
func NotFoundState() ViewState { return ViewState{Status: StatusNotFound, Message: MsgNotFound} }
func FetchFailedState() ViewState {
	return ViewState{Status: StatusFetchFailed, Message: MsgFetchFailed}
}

func LoadedState(a Article) ViewState {
	return ViewState{Status: StatusLoaded, Article: &a}
}

// Terminal reports whether the state ends an attempt.
func (v ViewState) Terminal() bool { return v.Status != StatusLoading }

// IsError reports whether the state is one of the three error states.
func (v ViewState) IsError() bool {
	switch v.Status {
	case StatusUnauthorized, StatusNotFound, StatusFetchFailed:
		return true
	}
	return false
}
