package expression

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile_BlankIsIdentity(t *testing.T) {
	for _, src := range []string{"", "   ", "\n"} {
		e, err := Compile(src)
		require.NoError(t, err)

		got, err := e.Evaluate(Context{Payload: []byte("raw")})
		require.NoError(t, err)
		assert.Equal(t, []byte("raw"), got)
	}
}

func TestCompile_SyntaxError(t *testing.T) {
	_, err := Compile("upper(payload")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCompile))
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		ctx     Context
		want    any
		wantErr bool
	}{
		{name: "payload", src: "payload", ctx: Context{Payload: "hello"}, want: "hello"},
		{name: "upper", src: "upper(payload)", ctx: Context{Payload: "hello"}, want: "HELLO"},
		{name: "text of bytes", src: "text(payload)", ctx: Context{Payload: []byte("hello")}, want: "hello"},
		{name: "upper of text", src: "upper(text(payload))", ctx: Context{Payload: []byte("abc")}, want: "ABC"},
		{
			name: "header access",
			src:  `headers["tenant"] + ":" + payload`,
			ctx:  Context{Payload: "p", Headers: map[string]any{"tenant": "acme"}},
			want: "acme:p",
		},
		{
			name: "jsonPath on string",
			src:  `jsonPath(payload, "$.order.items[1].sku")`,
			ctx:  Context{Payload: `{"order":{"items":[{"sku":"a"},{"sku":"b"}]}}`},
			want: "b",
		},
		{name: "upper on bytes fails", src: "upper(payload)", ctx: Context{Payload: []byte("x")}, wantErr: true},
		{name: "text on number fails", src: "text(payload)", ctx: Context{Payload: 12}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Compile(tc.src)
			require.NoError(t, err)

			got, err := e.Evaluate(tc.ctx)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestProgram_ConcurrentEvaluate(t *testing.T) {
	e := MustCompile("upper(payload)")

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Evaluate(Context{Payload: "go"})
			assert.NoError(t, err)
			assert.Equal(t, "GO", got)
		}()
	}
	wg.Wait()
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("((") })
}
