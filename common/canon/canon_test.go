// Copyright 2025 The go-ledgerbridge Authors
// This file is part of the go-ledgerbridge library.
//
// The go-ledgerbridge library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ledgerbridge library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ledgerbridge library. If not, see <http://www.gnu.org/licenses/>.

package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSortsKeys(t *testing.T) {
	out, err := Marshal(map[string]interface{}{
		"zeta":  1,
		"alpha": "a",
		"mid":   true,
	})
	require.NoError(t, err)
	require.Equal(t, `{"alpha":"a","mid":true,"zeta":1}`, string(out))
}

func TestMarshalNested(t *testing.T) {
	out, err := Marshal(map[string]interface{}{
		"outer": map[string]interface{}{"b": 2, "a": 1},
		"list":  []interface{}{map[string]interface{}{"y": nil, "x": "v"}},
	})
	require.NoError(t, err)
	require.Equal(t, `{"list":[{"x":"v","y":null}],"outer":{"a":1,"b":2}}`, string(out))
}

func TestMarshalStable(t *testing.T) {
	in := map[string]interface{}{
		"txnId":  "abc",
		"userId": "u-1",
		"delta":  int64(-250),
		"reason": "wager",
	}
	first, err := Marshal(in)
	require.NoError(t, err)
	for i := 0; i < 32; i++ {
		again, err := Marshal(in)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestTransformPreservesNumbers(t *testing.T) {
	out, err := Transform([]byte(`{"b": 10000000000000001, "a": 0.5}`))
	require.NoError(t, err)
	require.Equal(t, `{"a":0.5,"b":10000000000000001}`, string(out))
}

func TestTransformRejectsGarbage(t *testing.T) {
	_, err := Transform([]byte(`{"a":`))
	require.Error(t, err)
}
