package plot

const plotTemplate = `% Generated on {{.GeneratedDate}}
%
% Run ID: {{.RunID}}
% Scenario: {{.ScenarioName}} ({{.Checksum}})
% Description: {{.Description}}
% Started: {{.RunStarted}}
% Finished: {{.RunFinished}}
% Ticks: {{.Ticks}} of {{.Tick}}
% Flows: {{.TotalFlows}}
% Driver Version: {{.DriverVersion}}
% Host: {{.Hostname}} ({{.CPUModel}}, {{.CPUThreads}} threads)
%
\begin{tikzpicture}
	\begin{axis}[
		xlabel={ {{.XLabel}} },
		ylabel={ {{.YLabel}} },
		width=\textwidth,
		height=0.6\textwidth,
		xmin={{.XMin}}, xmax={{.XMax}},
		ymin={{.YMin}}, ymax={{.YMax}},
		ymajorgrids,
		grid style=dashed,
		legend columns=2,
		legend pos=north east,
	]

{{range .Plots}}
% Flow: {{.FlowName}} (index {{.FlowIndex}})
\addplot+[{{.Style}}]
  coordinates {
{{range .Coordinates}}    {{.}}
{{end}}  };
\addlegendentry{ {{.LegendEntry}} }

{{end}}
	\end{axis}
\end{tikzpicture}
`

const wrapperTemplate = `% Generated on {{.GeneratedDate}}
% Run ID: {{.RunID}}
% Field: {{.YField}}
\begin{center}
    \begin{figure}[H]
    \centering
    \resizebox{1\linewidth}{!}{\input{./{{.PlotFileName}} }}
    \caption[{{.ShortCaption}}]{ {{.Caption}} }
    \label{fig:run-{{.RunID}}-{{.YField}}}
    \end{figure}
\end{center}
`

type PlotData struct {
	GeneratedDate string
	RunID         int
	ScenarioName  string
	Checksum      string
	Description   string
	RunStarted    string
	RunFinished   string
	Ticks         int
	Tick          string
	TotalFlows    int
	DriverVersion string
	Hostname      string
	CPUModel      string
	CPUThreads    int
	XLabel        string
	YLabel        string
	XMin          string
	XMax          string
	YMin          string
	YMax          string
	Plots         []PlotSeries
}

type PlotSeries struct {
	FlowIndex   int
	FlowName    string
	Style       string
	LegendEntry string
	Coordinates []string
}

type WrapperData struct {
	GeneratedDate string
	RunID         int
	YField        string
	PlotFileName  string
	ShortCaption  string
	Caption       string
}
