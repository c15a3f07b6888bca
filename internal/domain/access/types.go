package access

type AccessState string

const (
	AccessFull    AccessState = "full"
	AccessLimited AccessState = "limited"
	AccessFree    AccessState = "free"
)
