package indicator

// Change is the close-to-close change in price. Undefined on the first bar.
type Change struct {
	count     int
	prevClose float64
	current   float64
}

// NewChange creates a change-in-price calculator.
func NewChange() *Change { return &Change{} }

func (c *Change) Update(price float64) {
	c.count++
	if c.count > 1 {
		c.current = price - c.prevClose
	}
	c.prevClose = price
}

func (c *Change) Value() float64 { return c.current }
func (c *Change) Ready() bool    { return c.count > 1 }

func (c *Change) Reset() {
	c.count = 0
	c.prevClose = 0
	c.current = 0
}
