package cache

import "fmt"

// Keys are namespaced by logical purpose and include every query parameter
// that affects the result, so distinct queries never collide.

// InventoryKey identifies one page of a seller's marketplace inventory.
func InventoryKey(seller string, page, perPage int, sort string) string {
	return fmt.Sprintf("inventory:%s:%d:%d:%s", seller, page, perPage, sort)
}

// RecordKey identifies release metadata for one catalog record.
func RecordKey(releaseID string) string {
	return fmt.Sprintf("record:%s", releaseID)
}

// ShippingKey identifies a shipping quote for one listing to one country.
func ShippingKey(listingID, country string) string {
	return fmt.Sprintf("shipping:%s:%s", listingID, country)
}
