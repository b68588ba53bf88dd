package domain

import "strings"

// MaxLineQuantity caps the quantity of a single cart line.
const MaxLineQuantity = 999

// LineKey identifies a cart line. Two lines with the same key are never stored separately.
type LineKey struct {
	ProductID string
	Size      string
	Color     string
}

// Key returns the compound key of the item.
func (i CartItem) Key() LineKey {
	return LineKey{ProductID: i.ProductID, Size: i.Size, Color: i.Color}
}

func (k LineKey) matches(item CartItem) bool {
	return item.ProductID == k.ProductID &&
		strings.EqualFold(item.Size, k.Size) &&
		strings.EqualFold(item.Color, k.Color)
}

// Owner reports the owning identifier and whether it belongs to a registered user.
func (c Cart) Owner() (string, bool) {
	if c.UserID != "" {
		return c.UserID, true
	}
	return c.GuestID, false
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FindLine returns the index of the line with key, or -1.
func (c Cart) FindLine(key LineKey) int {
	for i, item := range c.Items {
		if key.matches(item) {
			return i
		}
	}
	return -1
}

// AddLine increments an existing line with the same key or appends item. The resulting
// quantity never exceeds MaxLineQuantity.
func (c *Cart) AddLine(item CartItem) {
	if idx := c.FindLine(item.Key()); idx >= 0 {
		c.Items[idx].Quantity = min(c.Items[idx].Quantity+item.Quantity, MaxLineQuantity)
	} else {
		item.Quantity = min(item.Quantity, MaxLineQuantity)
		c.Items = append(c.Items, item)
	}
	c.Recalculate()
}

// SetQuantity sets an absolute quantity. Non-positive quantities remove the line.
// It returns false when no line matches key.
func (c *Cart) SetQuantity(key LineKey, quantity int) bool {
	idx := c.FindLine(key)
	if idx < 0 {
		return false
	}
	if quantity <= 0 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	} else {
		c.Items[idx].Quantity = quantity
	}
	c.Recalculate()
	return true
}

// RemoveLine drops the line with key. It returns false when no line matches.
func (c *Cart) RemoveLine(key LineKey) bool {
	return c.SetQuantity(key, 0)
}

// Merge folds the lines of other into c by compound key. Summed lines are clamped to
// MaxLineQuantity.
func (c *Cart) Merge(other Cart) {
	for _, item := range other.Items {
		c.AddLine(item)
	}
	c.Recalculate()
}

// Recalculate refreshes TotalPrice as the sum of price times quantity.
func (c *Cart) Recalculate() {
	var total int64
	for _, item := range c.Items {
		total += item.Price * int64(item.Quantity)
	}
	c.TotalPrice = total
}

// CartID derives the storage key of the cart owned by userID, or by guestID when userID is empty.
func CartID(userID, guestID string) string {
	if userID = strings.TrimSpace(userID); userID != "" {
		return "u_" + userID
	}
	if guestID = strings.TrimSpace(guestID); guestID != "" {
		return "g_" + guestID
	}
	return ""
}
