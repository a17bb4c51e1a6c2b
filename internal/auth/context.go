package auth

import "context"

type Role string

const (
	RoleGuardian  Role = "guardian"
	RoleDependent Role = "dependent"
)

func (r Role) Valid() bool {
	return r == RoleGuardian || r == RoleDependent
}

type contextKey struct{}

// Identity is the resolved caller: a guardian or dependent id and the
// family it belongs to.
type Identity struct {
	Role      Role  `json:"role"`
	SubjectID int64 `json:"subject_id"`
	FamilyID  int64 `json:"family_id"`
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}

func FamilyID(ctx context.Context) int64 {
	id, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return id.FamilyID
}

func IsGuardian(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	return ok && id.Role == RoleGuardian
}

func IsDependent(ctx context.Context) bool {
	id, ok := FromContext(ctx)
	return ok && id.Role == RoleDependent
}
