package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// entityIDNamespace seeds name-based entity ids.
var entityIDNamespace = uuid.MustParse("5088c92d-5e9c-43f4-a35b-2589474d5642")

// MergeKey identifies a logical entity: the tenant, the type and a digest of
// the normalized identifying attributes. It is the document lookup key and the
// event partition key.
type MergeKey struct {
	TenantID   string
	EntityType string
	Digest     string
	canonical  []byte
}

// IdentityDigest hashes the canonical identity together with the tenant and
// the type, so two keys share a String form only if all three match, even when
// the tenant or type contains "/".
func IdentityDigest(tenantID, entityType string, canonical []byte) string {
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(entityType))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil))
}

// NewMergeKey builds a key from the canonical identity encoding. digest is
// IdentityDigest of the same inputs.
func NewMergeKey(tenantID, entityType, digest string, canonical []byte) MergeKey {
	return MergeKey{
		TenantID:   tenantID,
		EntityType: entityType,
		Digest:     digest,
		canonical:  append([]byte(nil), canonical...),
	}
}

func (k MergeKey) String() string {
	return strings.Join([]string{k.TenantID, k.EntityType, k.Digest}, "/")
}

func (k MergeKey) IsZero() bool {
	return k.Digest == ""
}

// EntityID derives the stable entity id for this key.
func (k MergeKey) EntityID() string {
	name := make([]byte, 0, len(k.TenantID)+len(k.EntityType)+len(k.canonical)+2)
	name = append(name, k.TenantID...)
	name = append(name, 0)
	name = append(name, k.EntityType...)
	name = append(name, 0)
	name = append(name, k.canonical...)
	return uuid.NewSHA1(entityIDNamespace, name).String()
}

// ParseMergeKey recovers a key from its String form for an entity already
// stored under tenantID and entityType. The result carries no canonical
// encoding; use the stored entity id rather than EntityID.
func ParseMergeKey(tenantID, entityType, s string) (MergeKey, error) {
	digest, ok := strings.CutPrefix(s, tenantID+"/"+entityType+"/")
	if !ok || digest == "" {
		return MergeKey{}, fmt.Errorf("merge key %q does not belong to %s/%s", s, tenantID, entityType)
	}
	return MergeKey{TenantID: tenantID, EntityType: entityType, Digest: digest}, nil
}
