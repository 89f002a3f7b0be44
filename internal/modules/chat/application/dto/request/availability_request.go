package request

type SetAvailabilityRequest struct {
	IsAvailable        bool   `json:"is_available"`
	StatusMessage      string `json:"status_message"`
	MaxConcurrentChats int    `json:"max_concurrent_chats"`
}
