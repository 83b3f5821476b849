package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcyclicParams(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.NoError(t, AcyclicParams(nil))
	})

	t.Run("Flat", func(t *testing.T) {
		assert.NoError(t, AcyclicParams(map[string]interface{}{
			"s": "v", "n": 3.5, "b": true, "nil": nil,
		}))
	})

	t.Run("Nested", func(t *testing.T) {
		assert.NoError(t, AcyclicParams(map[string]interface{}{
			"list": []interface{}{1, map[string]interface{}{"deep": []interface{}{"x"}}},
		}))
	})

	t.Run("SelfReferentialMap", func(t *testing.T) {
		m := map[string]interface{}{}
		m["self"] = m
		assert.ErrorIs(t, AcyclicParams(m), ErrCyclicParams)
	})

	t.Run("IndirectCycle", func(t *testing.T) {
		a := map[string]interface{}{}
		b := map[string]interface{}{"back": a}
		a["fwd"] = []interface{}{b}
		assert.ErrorIs(t, AcyclicParams(a), ErrCyclicParams)
	})

	t.Run("SharedSubtreeIsNotACycle", func(t *testing.T) {
		shared := map[string]interface{}{"k": "v"}
		assert.NoError(t, AcyclicParams(map[string]interface{}{
			"left": shared, "right": shared,
		}))
	})

	t.Run("StructWrappedCycle", func(t *testing.T) {
		type wrapper struct {
			Inner map[string]interface{}
		}
		m := map[string]interface{}{}
		m["self"] = m
		assert.ErrorIs(t, AcyclicParams(map[string]interface{}{
			"w": wrapper{Inner: m},
		}), ErrCyclicParams)
	})

	t.Run("StructWithoutCycle", func(t *testing.T) {
		type wrapper struct {
			Inner map[string]interface{}
			Tags  []string
		}
		assert.NoError(t, AcyclicParams(map[string]interface{}{
			"w": wrapper{Inner: map[string]interface{}{"k": "v"}, Tags: []string{"a"}},
		}))
	})
}

func TestCloneParams(t *testing.T) {
	t.Run("Nil", func(t *testing.T) {
		assert.Nil(t, CloneParams(nil))
	})

	t.Run("Independence", func(t *testing.T) {
		orig := map[string]interface{}{
			"nested": map[string]interface{}{"k": "v"},
			"list":   []interface{}{1, 2},
		}
		clone := CloneParams(orig)
		require.Equal(t, orig, clone)

		clone["nested"].(map[string]interface{})["k"] = "tampered"
		clone["list"].([]interface{})[0] = 99

		assert.Equal(t, "v", orig["nested"].(map[string]interface{})["k"])
		assert.Equal(t, 1, orig["list"].([]interface{})[0])
	})

	t.Run("TypedContainers", func(t *testing.T) {
		orig := map[string]interface{}{
			"strs": map[string]string{"k": "v"},
			"ints": []int{1, 2},
			"deep": map[string][]int{"xs": {3, 4}},
		}
		clone := CloneParams(orig)
		require.Equal(t, orig, clone)

		clone["strs"].(map[string]string)["k"] = "tampered"
		clone["ints"].([]int)[0] = 99
		clone["deep"].(map[string][]int)["xs"][0] = 99

		assert.Equal(t, "v", orig["strs"].(map[string]string)["k"])
		assert.Equal(t, 1, orig["ints"].([]int)[0])
		assert.Equal(t, 3, orig["deep"].(map[string][]int)["xs"][0])
	})

	t.Run("TypedPointer", func(t *testing.T) {
		n := 7
		orig := map[string]interface{}{"p": &n}
		clone := CloneParams(orig)

		*clone["p"].(*int) = 99
		assert.Equal(t, 7, n)
	})
}
