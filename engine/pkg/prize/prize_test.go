package prize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEngine_Prize_Shares_Even(t *testing.T) {
	t.Parallel()

	t.Run("exact even split", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(900, 3, EvenCurve{})
		require.NoError(t, err)
		require.Equal(t, []uint64{300, 300, 300}, shares)
	})

	t.Run("remainder goes to rank 1", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(1000, 3, EvenCurve{})
		require.NoError(t, err)
		require.Equal(t, []uint64{334, 333, 333}, shares)
	})

	t.Run("pool smaller than winner count", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(2, 3, EvenCurve{})
		require.NoError(t, err)
		require.Equal(t, []uint64{2, 0, 0}, shares)
	})

	t.Run("single winner takes the pool", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(12345, 1, EvenCurve{})
		require.NoError(t, err)
		require.Equal(t, []uint64{12345}, shares)
	})
}

func TestEngine_Prize_Shares_Linear(t *testing.T) {
	t.Parallel()

	t.Run("rank 1 receives the largest share", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(6000, 3, LinearCurve{})
		require.NoError(t, err)
		// weights 3,2,1 over total 6
		require.Equal(t, []uint64{3000, 2000, 1000}, shares)
	})

	t.Run("shares are non-increasing by rank", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(999_999_937, 7, LinearCurve{})
		require.NoError(t, err)
		for i := 1; i < len(shares); i++ {
			require.GreaterOrEqual(t, shares[i-1], shares[i])
		}
	})
}

func TestEngine_Prize_Shares_Conservation(t *testing.T) {
	t.Parallel()

	pools := []uint64{0, 1, 7, 100, 999, 1_000_000_007, 1<<63 - 1}
	curves := []Curve{EvenCurve{}, LinearCurve{}}
	for _, pool := range pools {
		for _, curve := range curves {
			for _, n := range []int{1, 2, 3, 5, 10} {
				shares, err := Shares(pool, n, curve)
				require.NoError(t, err)
				var sum uint64
				for _, s := range shares {
					sum += s
				}
				require.Equal(t, pool, sum, "pool=%d curve=%s n=%d", pool, curve.Name(), n)
			}
		}
	}
}

func TestEngine_Prize_Shares_Validation(t *testing.T) {
	t.Parallel()

	t.Run("zero winners rejected", func(t *testing.T) {
		t.Parallel()
		_, err := Shares(100, 0, EvenCurve{})
		require.ErrorIs(t, err, ErrNoWinners)
	})

	t.Run("nil curve defaults to even", func(t *testing.T) {
		t.Parallel()
		shares, err := Shares(10, 2, nil)
		require.NoError(t, err)
		require.Equal(t, []uint64{5, 5}, shares)
	})
}

func TestEngine_Prize_ByName(t *testing.T) {
	t.Parallel()

	t.Run("resolves registered curves", func(t *testing.T) {
		t.Parallel()
		for name, want := range map[string]string{"": "even", "even": "even", "linear": "linear"} {
			c, err := ByName(name)
			require.NoError(t, err)
			require.Equal(t, want, c.Name())
		}
	})

	t.Run("rejects unknown names", func(t *testing.T) {
		t.Parallel()
		_, err := ByName("exponential")
		require.ErrorIs(t, err, ErrUnknownCurve)
	})
}
