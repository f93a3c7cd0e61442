package tdlib

// Update type tags the dispatcher routes. Names follow TDLib's JSON
// interface verbatim.
const (
	UpdateNewMessage           = "updateNewMessage"
	UpdateMessageSendSucceeded = "updateMessageSendSucceeded"
	UpdateMessageSendFailed    = "updateMessageSendFailed"
	UpdateMessageContent       = "updateMessageContent"
	UpdateDeleteMessages       = "updateDeleteMessages"

	UpdateUser               = "updateUser"
	UpdateUserStatus         = "updateUserStatus"
	UpdateAuthorizationState = "updateAuthorizationState"

	UpdateNewChat         = "updateNewChat"
	UpdateChatTitle       = "updateChatTitle"
	UpdateChatPhoto       = "updateChatPhoto"
	UpdateChatLastMessage = "updateChatLastMessage"

	UpdateConnectionState = "updateConnectionState"
	UpdateError           = "error"
)

// Authorization-class TDLib error codes. Updates carrying these mean the
// session credentials are no longer valid on the Telegram side.
const (
	ErrCodeUnauthorized    = 401
	ErrCodeAuthKeyRevoked  = 406
)

// IsAuthErrorCode reports whether code signals an authorization failure.
func IsAuthErrorCode(code int) bool {
	return code == ErrCodeUnauthorized || code == ErrCodeAuthKeyRevoked
}
