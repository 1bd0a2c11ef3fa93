package models

// Payload is implemented by the instrumentation records an Envelope can carry.
type Payload interface {
	payloadType() Type
}

type framed interface {
	frame() Frame
}

// Frame locates a tab scoped record in the browser session that produced it.
type Frame struct {
	ExtensionSessionUUID string `json:"extension_session_uuid"`
	WindowID             int    `json:"window_id"`
	TabID                int    `json:"tab_id"`
	FrameID              int    `json:"frame_id"`
	EventOrdinal         int    `json:"event_ordinal"`
	TimeStamp            string `json:"time_stamp"`
}

func (f Frame) frame() Frame { return f }

// Navigation is a committed web navigation. Its envelope time stamp is
// the commit time.
type Navigation struct {
	CrawlID                    int    `json:"crawl_id"`
	Incognito                  int    `json:"incognito"`
	ExtensionSessionUUID       string `json:"extension_session_uuid"`
	ProcessID                  int    `json:"process_id,omitempty"`
	WindowID                   int    `json:"window_id"`
	TabID                      int    `json:"tab_id"`
	TabOpenerID                int    `json:"tab_opener_id,omitempty"`
	FrameID                    int    `json:"frame_id"`
	ParentFrameID              int    `json:"parent_frame_id"`
	WindowWidth                int    `json:"window_width,omitempty"`
	WindowHeight               int    `json:"window_height,omitempty"`
	WindowType                 string `json:"window_type,omitempty"`
	TabWidth                   int    `json:"tab_width,omitempty"`
	TabHeight                  int    `json:"tab_height,omitempty"`
	TabCookieStoreID           string `json:"tab_cookie_store_id,omitempty"`
	UUID                       string `json:"uuid"`
	URL                        string `json:"url"`
	TransitionQualifiers       string `json:"transition_qualifiers,omitempty"`
	TransitionType             string `json:"transition_type,omitempty"`
	BeforeNavigateEventOrdinal int    `json:"before_navigate_event_ordinal"`
	BeforeNavigateTimeStamp    string `json:"before_navigate_time_stamp"`
	CommittedEventOrdinal      int    `json:"committed_event_ordinal"`
	CommittedTimeStamp         string `json:"committed_time_stamp"`
}

func (Navigation) payloadType() Type { return TypeNavigation }

func (n Navigation) frame() Frame {
	return Frame{
		ExtensionSessionUUID: n.ExtensionSessionUUID,
		WindowID:             n.WindowID,
		TabID:                n.TabID,
		FrameID:              n.FrameID,
		EventOrdinal:         n.CommittedEventOrdinal,
		TimeStamp:            n.CommittedTimeStamp,
	}
}

func (n Navigation) IsIncognito() bool { return n.Incognito != 0 }

type HTTPRequest struct {
	Frame
	CrawlID          int    `json:"crawl_id"`
	Incognito        int    `json:"incognito"`
	RequestID        string `json:"request_id"`
	URL              string `json:"url"`
	Method           string `json:"method"`
	Referrer         string `json:"referrer"`
	Headers          string `json:"headers"`
	IsXHR            int    `json:"is_XHR"`
	TriggeringOrigin string `json:"triggering_origin,omitempty"`
	LoadingOrigin    string `json:"loading_origin,omitempty"`
	LoadingHref      string `json:"loading_href,omitempty"`
	ResourceType     string `json:"resource_type"`
	TopLevelURL      string `json:"top_level_url,omitempty"`
	ParentFrameID    int    `json:"parent_frame_id"`
	FrameAncestors   string `json:"frame_ancestors,omitempty"`
	PostBody         string `json:"post_body,omitempty"`
}

func (HTTPRequest) payloadType() Type   { return TypeHTTPRequest }
func (r HTTPRequest) IsIncognito() bool { return r.Incognito != 0 }

type HTTPResponse struct {
	Frame
	CrawlID            int    `json:"crawl_id"`
	Incognito          int    `json:"incognito"`
	RequestID          string `json:"request_id"`
	IsCached           int    `json:"is_cached"`
	URL                string `json:"url"`
	Method             string `json:"method"`
	ResponseStatus     int    `json:"response_status"`
	ResponseStatusText string `json:"response_status_text"`
	Headers            string `json:"headers"`
	Location           string `json:"location"`
	ContentHash        string `json:"content_hash,omitempty"`
}

func (HTTPResponse) payloadType() Type   { return TypeHTTPResponse }
func (r HTTPResponse) IsIncognito() bool { return r.Incognito != 0 }

type HTTPRedirect struct {
	Frame
	CrawlID            int    `json:"crawl_id"`
	Incognito          int    `json:"incognito"`
	OldRequestURL      string `json:"old_request_url"`
	OldRequestID       string `json:"old_request_id"`
	NewRequestURL      string `json:"new_request_url"`
	NewRequestID       string `json:"new_request_id"`
	ResponseStatus     int    `json:"response_status"`
	ResponseStatusText string `json:"response_status_text"`
	Headers            string `json:"headers"`
}

func (HTTPRedirect) payloadType() Type   { return TypeHTTPRedirect }
func (r HTTPRedirect) IsIncognito() bool { return r.Incognito != 0 }

type JavascriptOperation struct {
	Frame
	CrawlID       int    `json:"crawl_id"`
	Incognito     int    `json:"incognito"`
	ScriptURL     string `json:"script_url"`
	ScriptLine    string `json:"script_line"`
	ScriptCol     string `json:"script_col"`
	FuncName      string `json:"func_name"`
	ScriptLocEval string `json:"script_loc_eval"`
	DocumentURL   string `json:"document_url"`
	TopLevelURL   string `json:"top_level_url"`
	CallStack     string `json:"call_stack"`
	Symbol        string `json:"symbol"`
	Operation     string `json:"operation"`
	Value         string `json:"value"`
	Arguments     string `json:"arguments,omitempty"`
}

func (JavascriptOperation) payloadType() Type   { return TypeJavascriptOperation }
func (o JavascriptOperation) IsIncognito() bool { return o.Incognito != 0 }

// JavascriptCookieRecord usually carries no tab id; cookie changes are
// observed per cookie store rather than per tab.
type JavascriptCookieRecord struct {
	Frame
	CrawlID          int    `json:"crawl_id"`
	RecordType       string `json:"record_type"`
	ChangeCause      string `json:"change_cause"`
	Expiry           string `json:"expiry"`
	IsHTTPOnly       int    `json:"is_http_only"`
	IsHostOnly       int    `json:"is_host_only"`
	IsSession        int    `json:"is_session"`
	Host             string `json:"host"`
	IsSecure         int    `json:"is_secure"`
	Name             string `json:"name"`
	Path             string `json:"path"`
	Value            string `json:"value"`
	SameSite         string `json:"same_site"`
	FirstPartyDomain string `json:"first_party_domain"`
	StoreID          string `json:"store_id"`
}

func (JavascriptCookieRecord) payloadType() Type { return TypeJavascriptCookieRecord }

type LogEntry struct {
	Level string `json:"level"`
	Msg   string `json:"msg"`
}

func (LogEntry) payloadType() Type { return TypeLogEntry }

// CapturedContent is a response body. It carries the frame context of
// the response it was captured from.
type CapturedContent struct {
	Frame
	DecodedContent string `json:"decoded_content"`
	ContentHash    string `json:"content_hash"`
}

func (CapturedContent) payloadType() Type { return TypeCapturedContent }
