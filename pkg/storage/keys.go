package storage

// Key schema (single Pebble keyspace):
//
//	ORDER#<orderId>        -> Order (JSON)
//	IDX#IDEM#<hash>        -> orderId of the order carrying that idempotency hash
//	PERSONA#<userId>       -> Persona (JSON)
//	META#IDX#IDEM          -> present once the idempotency index is provisioned
const (
	prefixOrder      = "ORDER#"
	prefixIdemIndex  = "IDX#IDEM#"
	prefixPersona    = "PERSONA#"
	keyIdemIndexMeta = "META#IDX#IDEM"
)

func orderKey(orderID string) []byte { return []byte(prefixOrder + orderID) }

func idemIndexKey(hash string) []byte { return []byte(prefixIdemIndex + hash) }

func personaKey(userID string) []byte { return []byte(prefixPersona + userID) }

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
