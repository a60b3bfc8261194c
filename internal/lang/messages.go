package lang

// Msg identifies one reply in the catalog.
type Msg int

const (
	MsgNone Msg = iota
	MsgExample
	MsgLangErr
	MsgNameTaken
	MsgNameReserved
	MsgRoleErr
	MsgExists
	MsgNotFound
	MsgRemoveSelf
	MsgRemoveSuper
	MsgGrantSuper
	MsgManageSuper
	MsgStatsErr
	MsgNoPosts
	MsgAdded
	MsgUpdated
	MsgRemoved
	MsgStatsHeaders
	MsgLastPostHeaders
	MsgListHeaders
	MsgPollErr
	MsgPollDueErr
	MsgPollCreated
	MsgVoteErr
	MsgVoteRecorded
	MsgNoPoll
	MsgOptionErr
	MsgUnavailable
	MsgLogUnavailable
	MsgDeliveryFailed
	msgCount
)

var english = [msgCount]struct{ name, text string }{
	MsgNone:            {"none", ""},
	MsgExample:         {"example", "Example:"},
	MsgLangErr:         {"lang_err", "Choose a valid language."},
	MsgNameTaken:       {"name_taken", "Choose a different username."},
	MsgNameReserved:    {"name_reserved", "Usernames cannot start with an underscore."},
	MsgRoleErr:         {"role_err", "Choose a valid role: (user | admin | super)"},
	MsgExists:          {"exists", "User already exists."},
	MsgNotFound:        {"not_found", "User not found."},
	MsgRemoveSelf:      {"remove_self", "You cannot remove yourself."},
	MsgRemoveSuper:     {"remove_super", "You cannot remove a superuser."},
	MsgGrantSuper:      {"grant_super", "Only a superuser can create another superuser."},
	MsgManageSuper:     {"manage_super", "You cannot change a superuser."},
	MsgStatsErr:        {"stats_err", "Invalid time frame."},
	MsgNoPosts:         {"no_posts", "There are no messages."},
	MsgAdded:           {"added", "New user added successfully."},
	MsgUpdated:         {"updated", "User updated successfully."},
	MsgRemoved:         {"removed", "User removed successfully."},
	MsgStatsHeaders:    {"stats_headers", "user, phone number, messages"},
	MsgLastPostHeaders: {"lastpost_headers", "user, phone number, most recent message"},
	MsgListHeaders:     {"list_headers", "user, phone number, language, type"},
	MsgPollErr:         {"poll_err", "A poll needs a question, a due time and at least two options."},
	MsgPollDueErr:      {"poll_due_err", "The due time must be in the future and look like 2030-01-31 18:00, 18:00 or +01:30 (UTC)."},
	MsgPollCreated:     {"poll_created", "Poll created. Vote with /vote and the option number."},
	MsgVoteErr:         {"vote_err", "Vote with the number of an option."},
	MsgVoteRecorded:    {"vote_recorded", "Your vote was recorded."},
	MsgNoPoll:          {"no_poll", "That poll is not open."},
	MsgOptionErr:       {"option_err", "That option does not exist."},
	MsgUnavailable:     {"unavailable", "The subscriber list is unavailable right now. Try again later."},
	MsgLogUnavailable:  {"log_unavailable", "Message history is unavailable right now. Try again later."},
	MsgDeliveryFailed:  {"delivery_failed", "The message could not be delivered."},
}

// English returns the source text of m.
func (m Msg) English() string {
	if m < 0 || m >= msgCount {
		return ""
	}
	return english[m].text
}

func (m Msg) String() string {
	if m < 0 || m >= msgCount {
		return "unknown"
	}
	return english[m].name
}
