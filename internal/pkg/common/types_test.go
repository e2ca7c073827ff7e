package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Мясо", "мясо"},
		{"  говядина  ", "говядина"},
		{"Куриное   Филе", "куриное филе"},
		{"   ", ""},
		{"meat", "meat"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSubject(tt.in))
	}
}

func TestContextCanonical(t *testing.T) {
	// 鍵序無關，內容相同即產生相同字串
	a := Context{"region": "moscow", "kind": "price"}
	b := Context{"kind": "price", "region": "moscow"}
	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, "kind=price&region=moscow", a.Canonical())

	var empty Context
	assert.Equal(t, "", empty.Canonical())
	assert.Equal(t, "", empty.Get("region"))
}

func TestValueComponentsRoundTrip(t *testing.T) {
	values := []Value{
		NewPriceValue(123.45),
		NewNutritionValue(NutritionValue{Calories: 250, Protein: 26, Carbs: 1.5, Fat: 15}),
		NewDiabeticValue(DiabeticValue{Sugar: 4.8, GlycemicIndex: 39}),
	}
	for _, v := range values {
		rebuilt := ValueFromComponents(v.Kind, v.Components())
		assert.Equal(t, v, rebuilt)
		assert.Equal(t, v.Components()[0], v.Primary())
	}
}

func TestValueFromComponentsShortSlice(t *testing.T) {
	// 欄位不足時補零
	v := ValueFromComponents(ValueNutrition, []float64{100})
	assert.Equal(t, 100.0, v.Nutrition.Calories)
	assert.Equal(t, 0.0, v.Nutrition.Protein)
}

func TestKindFromContext(t *testing.T) {
	assert.Equal(t, ValuePrice, KindFromContext(nil))
	assert.Equal(t, ValuePrice, KindFromContext(Context{"kind": "bogus"}))
	assert.Equal(t, ValueNutrition, KindFromContext(Context{"kind": "nutrition"}))
	assert.Equal(t, ValueDiabetic, KindFromContext(Context{"kind": "diabetic"}))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.5))
	assert.Equal(t, 1.0, Clamp01(1.5))
	assert.Equal(t, 0.42, Clamp01(0.42))
}
