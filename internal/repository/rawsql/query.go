package rawsql

import (
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/charmntreats/addressvault/internal/domain"
)

// Every statement in this package is a literal SQL string. Values are
// embedded with pq.QuoteLiteral, never concatenated raw.

const addressColumns = `id, owner_id, kind, recipient_name, street, city, region, postal_code, phone, is_default, created_at, updated_at`

func lit(s string) string { return pq.QuoteLiteral(s) }

func tsLit(t time.Time) string {
	return pq.QuoteLiteral(t.UTC().Format(time.RFC3339Nano)) + "::timestamptz"
}

func boolLit(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

func valuesTuple(a domain.Address, created, updated time.Time) string {
	return "(" + strings.Join([]string{
		lit(a.ID),
		lit(a.OwnerID),
		lit(string(a.Kind)),
		lit(a.RecipientName),
		lit(a.Street),
		lit(a.City),
		lit(a.Region),
		lit(a.PostalCode),
		lit(a.Phone),
		boolLit(a.IsDefault),
		tsLit(created),
		tsLit(updated),
	}, ", ") + ")"
}

func listQuery(ownerID string) string {
	return "SELECT " + addressColumns + " FROM addresses WHERE owner_id = " + lit(ownerID) +
		" ORDER BY is_default DESC, updated_at DESC, id"
}

func getDefaultQuery(ownerID string) string {
	return "SELECT " + addressColumns + " FROM addresses WHERE owner_id = " + lit(ownerID) +
		" AND is_default LIMIT 1"
}

func lockOwnerQuery(ownerID string) string {
	return "SELECT pg_advisory_xact_lock(hashtext(" + lit(ownerID) + "))"
}

func countQuery(ownerID string) string {
	return "SELECT COUNT(*) FROM addresses WHERE owner_id = " + lit(ownerID)
}

func clearDefaultsQuery(ownerID, keepID string, now time.Time) string {
	return "UPDATE addresses SET is_default = FALSE, updated_at = " + tsLit(now) +
		" WHERE owner_id = " + lit(ownerID) + " AND is_default AND id <> " + lit(keepID)
}

func insertQuery(a domain.Address) string {
	return "INSERT INTO addresses (" + addressColumns + ") VALUES " + valuesTuple(a, a.CreatedAt, a.UpdatedAt)
}

func ownerQuery(id string) string {
	return "SELECT owner_id FROM addresses WHERE id = " + lit(id)
}

func selectForUpdateQuery(id, ownerID string) string {
	return "SELECT " + addressColumns + " FROM addresses WHERE id = " + lit(id) +
		" AND owner_id = " + lit(ownerID) + " FOR UPDATE"
}

func updateQuery(a domain.Address) string {
	return "UPDATE addresses SET" +
		" kind = " + lit(string(a.Kind)) +
		", recipient_name = " + lit(a.RecipientName) +
		", street = " + lit(a.Street) +
		", city = " + lit(a.City) +
		", region = " + lit(a.Region) +
		", postal_code = " + lit(a.PostalCode) +
		", phone = " + lit(a.Phone) +
		", is_default = " + boolLit(a.IsDefault) +
		", updated_at = " + tsLit(a.UpdatedAt) +
		" WHERE id = " + lit(a.ID)
}

func deleteQuery(id string) string {
	return "DELETE FROM addresses WHERE id = " + lit(id)
}

// setDefaultQuery moves the owner's default to id in one statement. It
// touches no rows when id does not belong to ownerID.
func setDefaultQuery(id, ownerID string, now time.Time) string {
	return "UPDATE addresses SET is_default = (id = " + lit(id) + "), updated_at = " + tsLit(now) +
		" WHERE owner_id = " + lit(ownerID) +
		" AND (is_default OR id = " + lit(id) + ")" +
		" AND EXISTS (SELECT 1 FROM addresses WHERE id = " + lit(id) + " AND owner_id = " + lit(ownerID) + ")"
}

func upsertQuery(a domain.Address, created, now time.Time) string {
	return "INSERT INTO addresses (" + addressColumns + ") VALUES " + valuesTuple(a, created, now) +
		" ON CONFLICT (id) DO UPDATE SET" +
		" owner_id = EXCLUDED.owner_id," +
		" kind = EXCLUDED.kind," +
		" recipient_name = EXCLUDED.recipient_name," +
		" street = EXCLUDED.street," +
		" city = EXCLUDED.city," +
		" region = EXCLUDED.region," +
		" postal_code = EXCLUDED.postal_code," +
		" phone = EXCLUDED.phone," +
		" is_default = EXCLUDED.is_default," +
		" updated_at = EXCLUDED.updated_at"
}
