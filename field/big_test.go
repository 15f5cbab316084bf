package field_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"heavyhitters/field"
)

func TestBigFieldAxioms(t *testing.T) {
	x := field.RandomBig()
	y := field.RandomBig()
	z := field.RandomBig()

	assert.True(t, x.Add(x.Neg()).IsZero())
	assert.True(t, x.Mul(y).Mul(z).Equal(x.Mul(y.Mul(z))))
	assert.True(t, x.Add(y).Mul(z).Equal(x.Mul(z).Add(y.Mul(z))))
}

func TestBigFieldCanonicalizesOnConstruction(t *testing.T) {
	p := field.BigModulus()
	over := new(big.Int).Add(p, big.NewInt(5))
	x := field.NewBig(over)
	assert.Equal(t, big.NewInt(5), x.Int())
}
