package cart

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViewDerivedValues(t *testing.T) {
	v := View{Cart: sampleCart()}

	assert.True(t, v.HasLines())
	assert.Equal(t, 2, v.LineCount())
	assert.Equal(t, 3, v.TotalQuantity())
	assert.False(t, v.IsEmpty())
	assert.True(t, v.HasApplicableDiscount())
	assert.Equal(t, []string{"SAVE10"}, v.ApplicableCodes())
	assert.Equal(t, []string{"•••• ABCD"}, v.MaskedGiftCards())
	assert.False(t, v.IsPending())

	line, ok := v.LineFor("B")
	assert.True(t, ok)
	assert.Equal(t, "l2", line.ID)
	_, ok = v.Line("missing")
	assert.False(t, ok)
}

func TestViewEmpty(t *testing.T) {
	v := View{Cart: &Cart{}}

	assert.False(t, v.HasLines())
	assert.True(t, v.IsEmpty())
	assert.Equal(t, 0, v.TotalQuantity())
	assert.Empty(t, v.MaskedGiftCards())
}

func TestViewInapplicableDiscount(t *testing.T) {
	v := View{Cart: &Cart{DiscountCodes: []DiscountCode{{Code: "BADCODE", Applicable: false}}}}

	assert.False(t, v.HasApplicableDiscount())
	assert.Empty(t, v.ApplicableCodes())
}
