package framegraph

import "github.com/spaghettifunk/anima-rdg/engine/core"

type scope struct {
	name     string
	textures map[string]TextureHandle
	buffers  map[string]BufferHandle
}

// Scoper lets passes publish handles by name so that later passes can find
// them without threading handles through every call. Lookups search the
// innermost scope first.
type Scoper struct {
	scopes []scope
	depth  int
}

func newScoper() *Scoper {
	s := &Scoper{}
	s.PushScope("frame")
	return s
}

func (s *Scoper) PushScope(name string) {
	if s.depth == len(s.scopes) {
		s.scopes = append(s.scopes, scope{
			textures: make(map[string]TextureHandle),
			buffers:  make(map[string]BufferHandle),
		})
	}
	s.scopes[s.depth].name = name
	s.depth++
}

func (s *Scoper) PopScope() {
	if s.depth <= 1 {
		core.LogWarn("scoper: cannot pop the frame scope")
		return
	}
	s.depth--
	top := &s.scopes[s.depth]
	clear(top.textures)
	clear(top.buffers)
}

// Scope returns the name of the innermost scope.
func (s *Scoper) Scope() string {
	return s.scopes[s.depth-1].name
}

func (s *Scoper) SetTexture(name string, h TextureHandle) {
	s.scopes[s.depth-1].textures[name] = h
}

func (s *Scoper) SetBuffer(name string, h BufferHandle) {
	s.scopes[s.depth-1].buffers[name] = h
}

func (s *Scoper) Texture(name string) (TextureHandle, bool) {
	for i := s.depth - 1; i >= 0; i-- {
		if h, ok := s.scopes[i].textures[name]; ok {
			return h, true
		}
	}
	return TextureHandle{}, false
}

func (s *Scoper) Buffer(name string) (BufferHandle, bool) {
	for i := s.depth - 1; i >= 0; i-- {
		if h, ok := s.scopes[i].buffers[name]; ok {
			return h, true
		}
	}
	return BufferHandle{}, false
}

func (s *Scoper) clear() {
	for s.depth > 1 {
		s.PopScope()
	}
	clear(s.scopes[0].textures)
	clear(s.scopes[0].buffers)
}
