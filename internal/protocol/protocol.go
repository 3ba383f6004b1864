// Package protocol defines the closed set of messages exchanged between the
// Host and the Worker: requests (Host -> Worker, carry an id), responses
// (Worker -> Host, echo the request's id) and events (Worker -> Host,
// unsolicited, no id). Both directions travel over plain Go channels whose
// element type is Envelope, so "serialization" here means constructing the
// right typed payload, not marshaling bytes — the two domains are
// goroutines in one process, mirroring the single ordered postMessage
// channel of the browser host this system was modeled on.
package protocol

// Envelope is the only thing that crosses a Host<->Worker channel.
type Envelope struct {
	Type    string
	ID      string // empty for events
	Payload any
}

// HasID reports whether this envelope is a correlated request or response.
func (e Envelope) HasID() bool { return e.ID != "" }

// Message type tags exchanged between Host and Worker.
const (
	// Requests, Host -> Worker.
	TypeInitialize      = "initialize"
	TypeSpawn           = "spawn"
	TypeWriteInput      = "writeInput"
	TypeTerminate       = "terminate"
	TypeDispose         = "dispose"
	TypeGetStats        = "getStats"
	TypeWriteFile       = "writeFile"
	TypeReadFile        = "readFile"
	TypeDeleteFile      = "deleteFile"
	TypeListFiles       = "listFiles"
	TypeCreateDirectory = "createDirectory"
	TypeListDirectory   = "listDirectory"
	TypeDeleteDirectory = "deleteDirectory"
	TypeHTTPRequest     = "httpRequest"
	TypeListServers     = "listServers"

	// Responses, Worker -> Host (echo id).
	TypeInitialized      = "initialized"
	TypeSpawned          = "spawned"
	TypeInputWritten     = "inputWritten"
	TypeTerminated       = "terminated"
	TypeDisposed         = "disposed"
	TypeStats            = "stats"
	TypeFileWritten      = "fileWritten"
	TypeFileRead         = "fileRead"
	TypeFileDeleted      = "fileDeleted"
	TypeFileList         = "fileList"
	TypeDirectoryCreated = "directoryCreated"
	TypeDirectoryDeleted = "directoryDeleted"
	TypeDirectoryList    = "directoryList"
	TypeHTTPResponse     = "httpResponse"
	TypeServerList       = "serverList"
	TypeError            = "error"

	// Events, Worker -> Host (no id).
	TypeProcessOutput  = "processOutput"
	TypeProcessExit    = "processExit"
	TypeProcessError   = "processError"
	TypeOnServerListen = "onServerListen"
	TypeOnServerClose  = "onServerClose"
	TypeNetworkError   = "networkError"
)

// --- Request payloads ---

type InitializeRequest struct {
	Debug       bool
	MemoryLimit int
}

type SpawnOptions struct {
	Cwd string
	Env map[string]string
}

type SpawnRequest struct {
	Command string
	Args    []string
	Options SpawnOptions
}

type WriteInputRequest struct {
	PID   int
	Input string
}

type TerminateRequest struct {
	PID int
}

type WriteFileRequest struct {
	Path    string
	Content []byte
}

type ReadFileRequest struct {
	Path string
}

type DeleteFileRequest struct {
	Path      string
	Recursive bool
}

type ListFilesRequest struct {
	Path string // empty means "all files under /"
}

type CreateDirectoryRequest struct {
	Path string
}

type ListDirectoryRequest struct {
	Path string
}

type DeleteDirectoryRequest struct {
	Path      string
	Recursive bool
}

type HTTPRequestPayload struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

type HTTPRequestRequest struct {
	Request HTTPRequestPayload
	Port    int
}

// --- Response payloads ---

type InitializedResponse struct{}

type SpawnedResponse struct {
	PID     int
	Command string
}

type InputWrittenResponse struct{}

type TerminatedResponse struct {
	PID      int
	ExitCode int
}

type DisposedResponse struct{}

type ProcessStatSnapshot struct {
	PID    int
	Type   string
	State  string
	Uptime float64 // seconds
}

type StatsResponse struct {
	Processes []ProcessStatSnapshot
	Network   NetworkStatsSnapshot
}

type NetworkStatsSnapshot struct {
	Servers           int
	RequestsTotal     int64
	RequestsSuccess   int64
	RequestsFailed    int64
	BytesReceived     int64
	BytesSent         int64
	ActiveConns       int64
	AvgResponseTime   float64
	RequestsPerMinute float64
}

type FileWrittenResponse struct{}

type FileReadResponse struct {
	Content []byte
}

type FileDeletedResponse struct{}

type FileListResponse struct {
	Files []string
}

type DirectoryCreatedResponse struct{}

type DirectoryDeletedResponse struct{}

type DirectoryListResponse struct {
	Path           string
	Files          []string
	Subdirectories []string
}

type HTTPResponsePayload struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       []byte
}

type HTTPResponseResponse struct {
	Response HTTPResponsePayload
	Port     int
}

type ServerListResponse struct {
	Ports []int
}

type ErrorResponse struct {
	Error string
}

// --- Event payloads ---

type ProcessOutputEvent struct {
	PID     int
	Output  string
	IsError bool
}

type ProcessExitEvent struct {
	PID      int
	ExitCode int
}

type ProcessErrorEvent struct {
	PID   int
	Error string
}

type OnServerListenEvent struct {
	Port int
}

type OnServerCloseEvent struct {
	Port int
}

type NetworkErrorResponsePayload struct {
	ID    string
	Error string
}

type NetworkErrorEvent struct {
	Response NetworkErrorResponsePayload
	Port     int
}
