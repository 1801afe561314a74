package callback

// Action is one user action reported by the editor (0 disconnect, 1 connect,
// 2 force-save click).
type Action struct {
	Type   int    `json:"type"`
	UserID string `json:"userid"`
}

// Payload is the callback body posted by the editor server.
type Payload struct {
	Key           string   `json:"key"`
	Status        int      `json:"status"`
	URL           string   `json:"url,omitempty"`
	ChangesURL    string   `json:"changesurl,omitempty"`
	FileType      string   `json:"filetype,omitempty"`
	Users         []string `json:"users,omitempty"`
	Actions       []Action `json:"actions,omitempty"`
	ForceSaveType *int     `json:"forcesavetype,omitempty"`
	Token         string   `json:"token,omitempty"`
}

// Request is one callback invocation as received on the HTTP boundary.
type Request struct {
	DocumentID  string // from the URL path
	AccessToken string // write token from the callback URL query
	EditorToken string // editor JWT from the configured header, if any
	Payload     Payload
}

// Code is the numeric acknowledgment returned to the editor as {"error": code}.
type Code int

const (
	CodeOK        Code = 0 // processed; stop retrying
	CodeRetry     Code = 1 // transient failure; retry later
	CodeRejected  Code = 2 // permanently rejected
	CodeIntegrity Code = 3 // store constraint violated; permanently rejected
)

// Outcome is the result of reconciling one callback.
type Outcome struct {
	Code       Code
	HTTPStatus int
	Status     Status
	Version    int64 // committed version, when a commit happened
	Err        error
}

// Response is the body written back to the editor.
func (o Outcome) Response() map[string]int {
	return map[string]int{"error": int(o.Code)}
}
