package playback

import (
	"context"
	"sync"

	"github.com/normanking/avatarchat/internal/conversation"
)

// Tee plays a reply on primary and, alongside it, on every follower.
// Followers are cancelled as soon as primary returns, and only primary's
// result is reported.
func Tee(primary Renderer, followers ...Renderer) Renderer {
	return RendererFunc(func(ctx context.Context, msg conversation.Message) error {
		fctx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		for _, f := range followers {
			wg.Add(1)
			go func(r Renderer) {
				defer wg.Done()
				r.Play(fctx, msg)
			}(f)
		}

		err := primary.Play(ctx, msg)
		cancel()
		wg.Wait()
		return err
	})
}
