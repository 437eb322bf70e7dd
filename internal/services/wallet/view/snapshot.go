package view

// Message keys for page notices. The rendered copy lives in the wallet
// message catalog.
const (
	MsgAccountCreated      = "wallet.notice.account_created"
	MsgTransferSucceeded   = "wallet.notice.transfer_succeeded"
	MsgUsernameRequired    = "wallet.error.username_required"
	MsgCreateAccountFailed = "wallet.error.create_account_failed"
	MsgAccountNotCreated   = "wallet.error.account_not_created"
	MsgFetchBalanceFailed  = "wallet.error.fetch_balance_failed"
	MsgInvalidAmount       = "wallet.error.invalid_amount"
	MsgInvalidRecipient    = "wallet.error.invalid_recipient"
	MsgTransferFailed      = "wallet.error.transfer_failed"
	MsgInProgress          = "wallet.error.in_progress"
)

// Notice is a page message: a catalog key, remote text shown verbatim, or a
// key followed by such text.
type Notice struct {
	Key    string
	Detail string
}

// IsZero reports an empty notice.
func (n Notice) IsZero() bool {
	return n.Key == "" && n.Detail == ""
}

// Snapshot is an immutable copy of the view for one render.
type Snapshot struct {
	State           State
	Username        string
	Balance         uint64
	Principal       string
	Error           Notice
	Success         Notice
	CreatePending   bool
	TransferPending bool
	ConnectionError string
}

// ShowCreateForm reports whether the page offers account creation.
func (s Snapshot) ShowCreateForm() bool {
	return s.State == StateNoAccount || s.State == StateReady
}

// ShowAccount reports whether the page shows the account card and the
// transfer form.
func (s Snapshot) ShowAccount() bool {
	return s.State == StateHasAccount
}
