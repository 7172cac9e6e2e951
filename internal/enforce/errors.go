package enforce

import "fmt"

// BlockedError is returned when the matrix hard-blocks an action. The caller
// cannot proceed; the embedded result carries the user-facing message.
type BlockedError struct {
	Result Result
}

func (e BlockedError) Error() string {
	return fmt.Sprintf("%s blocked: %s", e.Result.Context.Action, e.Result.Message.Title)
}

// ConfirmationRequiredError is returned when an action is soft-blocked and
// the caller did not pass an explicit confirmation.
type ConfirmationRequiredError struct {
	Result Result
}

func (e ConfirmationRequiredError) Error() string {
	return fmt.Sprintf("%s requires confirmation: %s", e.Result.Context.Action, e.Result.Message.Title)
}
