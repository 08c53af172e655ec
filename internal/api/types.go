package api

import "time"

// SyncDelta is one entry of the remote change list: a document the server has
// finished processing, identified by a monotonically increasing sync ID.
type SyncDelta struct {
	ID          int64  `json:"id"`
	DownloadURL string `json:"download_url"` //nolint:tagliatelle // server field name
	Filename    string `json:"filename"`
}

// SyncRequest is the server's acknowledgement of a sync request.
type SyncRequest struct {
	SyncID   int64  `json:"sync_id"` //nolint:tagliatelle // server field name
	Filename string `json:"filename"`
}

// SyncStatus is the processing status of one sync request.
type SyncStatus struct {
	Completed   bool   `json:"completed"`
	Error       bool   `json:"error"`
	DownloadURL string `json:"download_url,omitempty"` //nolint:tagliatelle // server field name
	ID          int64  `json:"id,omitempty"`
}

// HistoryItem is one row of the remote sync history.
type HistoryItem struct {
	ID        int64  `json:"id"`
	Filename  string `json:"filename"`
	Completed bool   `json:"completed"`
	Error     bool   `json:"error"`
	CreatedAt string `json:"created_at"` //nolint:tagliatelle // server field name
}

// Status returns a short label for the item's processing outcome.
func (h *HistoryItem) Status() string {
	switch {
	case h.Completed:
		return "Completed"
	case h.Error:
		return "Error"
	default:
		return "In progress"
	}
}

// HistoryPage is one page of the paginated sync history.
type HistoryPage struct {
	Items       []HistoryItem `json:"data"`
	CurrentPage int           `json:"current_page"` //nolint:tagliatelle // server field name
	LastPage    int           `json:"last_page"`    //nolint:tagliatelle // server field name
	Total       int           `json:"total"`
}

// TreeItem is a file ("f") or directory ("d") on the tablet.
type TreeItem struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// IsDir reports whether the item is a directory.
func (t *TreeItem) IsDir() bool {
	return t.Type == "d"
}

// FileTree is the listing of one directory on the tablet.
type FileTree struct {
	Items []TreeItem `json:"items"`
	CWD   string     `json:"cwd"`
}

// User is the authenticated account's profile.
type User struct {
	ID              int64  `json:"-"`
	Name            string `json:"-"`
	Email           string `json:"-"`
	CreatedAt       string `json:"-"`
	OnboardingState string `json:"-"`
	Subscribed      bool   `json:"-"`
	Lifetime        bool   `json:"-"`
	TotalSyncs      int    `json:"-"`
}

// userResponse mirrors the profile JSON. Unexported; callers get User.
type userResponse struct {
	User struct {
		ID        int64  `json:"id"`
		Name      string `json:"name"`
		Email     string `json:"email"`
		CreatedAt string `json:"created_at"` //nolint:tagliatelle // server field name
	} `json:"user"`
	OnboardingState    string `json:"onboarding_state"` //nolint:tagliatelle // server field name
	SubscriptionStatus struct {
		Exists   bool `json:"exists"`
		Lifetime bool `json:"lifetime"`
	} `json:"subscription_status"` //nolint:tagliatelle // server field name
	TotalSyncs int `json:"total_syncs"` //nolint:tagliatelle // server field name
}

func (u *userResponse) toUser() User {
	return User{
		ID:              u.User.ID,
		Name:            u.User.Name,
		Email:           u.User.Email,
		CreatedAt:       u.User.CreatedAt,
		OnboardingState: u.OnboardingState,
		Subscribed:      u.SubscriptionStatus.Exists,
		Lifetime:        u.SubscriptionStatus.Lifetime,
		TotalSyncs:      u.TotalSyncs,
	}
}

// DeviceCode is the device authorization response of RFC 8628 section 3.2.
type DeviceCode struct {
	DeviceCode      string
	UserCode        string
	VerificationURI string
	ExpiresIn       time.Duration
	Interval        time.Duration
}
