package types

type ctxKey string

const (
	IPKey      ctxKey = "ip"
	AccountKey ctxKey = "account"
)
