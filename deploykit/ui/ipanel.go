// Copyright 2025 The Deploykit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/deploykit/deploykit/deploykit/util"
	"github.com/deploykit/deploykit/rest"
)

type InfoPanel struct {
	text *views.TextArea
	info *rest.DeploymentInfo
	name string // deployment name
	err  error  // last error retrieving state

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	p := &InfoPanel{}

	p.Panel.Init(app)

	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *InfoPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *InfoPanel) HandleEvent(ev tcell.Event) bool {
	info := p.info
	app := p.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			app.ShowMain()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.ShowMain()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'L', 'l':
				if info != nil {
					app.ShowLog(info.Name)
					return true
				}
			case 'R', 'r':
				if info != nil {
					app.RestartDeployment(info.Name)
					return true
				}
			case 'N', 'n':
				if info != nil && !info.Running {
					app.InstallDeployment(info.Name)
					return true
				}
			case 'S', 's':
				if info != nil && !info.Enabled {
					app.StartDeployment(info.Name)
					return true
				}
			case 'X', 'x':
				if info != nil && info.Enabled {
					app.StopDeployment(info.Name)
					return true
				}
			case 'C', 'c':
				if info != nil && info.Failed {
					app.ClearDeployment(info.Name)
					return true
				}
			case 'U', 'u':
				if info != nil && !info.Enabled {
					app.CleanupDeployment(info.Name)
					return true
				}
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *InfoPanel) SetName(name string) {
	p.name = name
}

// update must be called with AppLock held.
func (p *InfoPanel) update() {

	d, e := p.App().GetItem(p.name)

	if p.info == d && p.err == e {
		return
	}
	p.info = d
	p.err = e
	words := []string{"[ESC] Main", "[H] Help"}

	p.SetTitle("Details for " + p.name)

	if d == nil {
		if p.err != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", p.err))
			p.SetError()
		} else {
			p.SetStatus("Loading...")
			p.SetNormal()
		}
		p.text.SetLines(nil)
		p.SetKeys(words)
		return
	}

	p.SetStatus("")
	if !d.Enabled {
		p.SetNormal()
	} else if d.Failed {
		p.SetError()
	} else if d.Running {
		p.SetGood()
	} else {
		p.SetWarn()
	}

	lines := make([]string, 0, 9)
	lines = append(lines, fmt.Sprintf("%13s %s", "Name:", d.Name))
	lines = append(lines, fmt.Sprintf("%13s %s", "Description:",
		d.Description))
	lines = append(lines, fmt.Sprintf("%13s %s", "Mode:", d.Mode))
	lines = append(lines, fmt.Sprintf("%13s %s", "Status:", util.Status(d)))
	lines = append(lines, fmt.Sprintf("%13s %v", "Since:", d.TimeStamp))
	lines = append(lines, fmt.Sprintf("%13s %s", "Detail:", d.Status))

	l := fmt.Sprintf("%13s", "Provides:")
	for _, s := range d.Provides {
		l = l + fmt.Sprintf(" %s", s)
	}
	lines = append(lines, l)

	l = fmt.Sprintf("%13s", "Depends:")
	for _, s := range d.Depends {
		l = l + fmt.Sprintf(" %s", s)
	}
	lines = append(lines, l)

	l = fmt.Sprintf("%13s", "Conflicts:")
	for _, s := range d.Conflicts {
		l = l + fmt.Sprintf(" %s", s)
	}
	lines = append(lines, l)

	p.text.SetLines(lines)

	words = append(words, "[L] Log")
	if !d.Enabled {
		words = append(words, "[N] Install")
		words = append(words, "[S] Start")
		words = append(words, "[U] Cleanup")
	} else {
		words = append(words, "[X] Stop")
		if d.Failed {
			words = append(words, "[C] Clear")
		}
		words = append(words, "[R] Restart")
	}
	p.SetKeys(words)
}
