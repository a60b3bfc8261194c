package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"relaybot/internal/errs"
	"relaybot/internal/lang"
	"relaybot/internal/subscriber"
)

// causeOf returns the external service's own error text when one was
// attached, else the error string.
func causeOf(err error) string {
	if v, ok := errs.Values(err)["cause"]; ok {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return err.Error()
}

func field(err error) string {
	s, _ := errs.Values(err)["field"].(string)
	return s
}

// explainSubscriberErr maps a subscriber store error to a reply. example is
// shown with validation failures.
func (r *Router) explainSubscriberErr(ctx context.Context, kind CommandKind, sender subscriber.Subscriber, err error, example string) string {
	switch {
	case errors.Is(err, errs.ErrPersistence):
		return r.text(ctx, sender, lang.MsgUnavailable)
	case errors.Is(err, errs.ErrNotFound):
		return r.text(ctx, sender, lang.MsgNotFound)
	case errors.Is(err, errs.ErrAuthorization):
		switch kind {
		case CmdAdd:
			return r.text(ctx, sender, lang.MsgGrantSuper)
		case CmdRemove:
			return r.text(ctx, sender, lang.MsgRemoveSuper)
		default:
			return r.text(ctx, sender, lang.MsgManageSuper)
		}
	case errors.Is(err, errs.ErrConflict):
		switch {
		case kind == CmdRemove:
			return r.text(ctx, sender, lang.MsgRemoveSelf)
		case hasValue(err, "name"):
			return r.text(ctx, sender, lang.MsgNameTaken)
		default:
			return r.text(ctx, sender, lang.MsgExists)
		}
	case errors.Is(err, errs.ErrValidation):
		switch field(err) {
		case "lang":
			return r.usage(ctx, sender, lang.MsgLangErr, example)
		case "role":
			return r.usage(ctx, sender, lang.MsgRoleErr, example)
		case "name":
			if name, _ := errs.Values(err)["name"].(string); strings.HasPrefix(name, subscriber.ReservedPrefix) {
				return r.usage(ctx, sender, lang.MsgNameReserved, example)
			}
		}
		return r.usage(ctx, sender, lang.MsgNone, example)
	}
	return causeOf(err)
}

func hasValue(err error, key string) bool {
	_, ok := errs.Values(err)[key]
	return ok
}
