package constants

import "time"

const (
	// ProvisionalIDPrefix namespaces locally generated ids. Server ids never
	// start with it.
	ProvisionalIDPrefix = "tmp-"
	// ProvisionalIDLength is the length of the random part of a provisional id.
	ProvisionalIDLength = 16

	// CloseMessageCode is the normal closure code sent on Close.
	CloseMessageCode = 1000
)

const (
	DefaultPollInterval       = 15 * time.Second
	DefaultEntityPollInterval = 30 * time.Second
	DefaultRequestTimeout     = 10 * time.Second
	DefaultReconnectAttempts  = 5
	DefaultReconnectDelay     = time.Second
	DefaultFeedLimit          = 200
	DefaultDedupResolution    = time.Second
	DefaultEventsPath         = "/admin/events"
	DefaultWriteTimeout       = 5 * time.Second
	DefaultEncoding           = "json"
)

var (
	WebsocketScheme       = "ws"
	SecureWebsocketScheme = "wss"
	HTTPScheme            = "http"
	HTTPSecureScheme      = "https"
)
