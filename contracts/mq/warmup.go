package mq

// WarmupSendPayload is published on `warmup.send` and consumed by the
// delivery worker, which performs the actual SMTP/IMAP exchange.
type WarmupSendPayload struct {
	Sender       string `json:"sender"`
	Receiver     string `json:"receiver"`
	Direction    string `json:"direction"`
	AccountEmail string `json:"account_email"`
	TraceID      string `json:"trace_id,omitempty"`
}

// AccountStatusPayload is consumed from `warmup.account_status` when the
// platform API toggles an account.
type AccountStatusPayload struct {
	Email   string `json:"email"`
	Status  string `json:"status"` // active | paused
	TraceID string `json:"trace_id,omitempty"`
}

// TriggerPayload is consumed from `warmup.trigger` to force an immediate
// global scheduling sweep.
type TriggerPayload struct {
	Reason  string `json:"reason,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}
