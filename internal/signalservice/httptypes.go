package signalservice

// BasicAuth holds credentials for HTTP Basic authentication.
type BasicAuth struct {
	Username string // "{aci}.{deviceId}"
	Password string
}

// Group control message types.
const (
	ControlSyncRequest = "sync-request"
	ControlLeave       = "leave"
	ControlEmptySetup  = "empty-setup"
)

// GroupControlMessage is the JSON body for PUT /v1/groups/control/{recipient}.
type GroupControlMessage struct {
	GroupID   string `json:"groupId"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"` // ms
}

// GroupListResponse is the JSON response from GET /v1/groups.
type GroupListResponse struct {
	Groups []GroupEntity `json:"groups"`
}

// GroupEntity is one group in GroupListResponse.
type GroupEntity struct {
	MasterKey string         `json:"masterKey"` // base64, 32 bytes
	Creator   string         `json:"creator"`
	Name      string         `json:"name"`
	Revision  uint32         `json:"revision"`
	Members   []MemberEntity `json:"members"`
}

// MemberEntity is a current group member.
type MemberEntity struct {
	ACI      string `json:"aci"`
	JoinedAt int64  `json:"joinedAt"` // ms
}
