package fetcher

// Sentinel element ids appended by the asynchronous post-load scripts.
const (
	MarkerCanvas    = "rendering_completed_in_converting_canvas"
	MarkerScrolling = "rendering_completed_in_scrolling"
	MarkerBlob      = "rendering_completed_in_converting_blob"
)

const canvasToImagesScript = `() => {
	(async function () {
		const div = document.createElement("DIV");
		div.className = "images_from_canvas";
		for (const canvas of document.getElementsByTagName("canvas")) {
			const img = document.createElement("IMG");
			img.src = canvas.toDataURL("image/png");
			div.appendChild(img);
		}
		document.body.appendChild(div);
		const marker = document.createElement("DIV");
		marker.id = "` + MarkerCanvas + `";
		document.body.appendChild(marker);
	}());
}`

const scrollingScript = `() => {
	const sleep = (ms) => new Promise((resolve) => setTimeout(resolve, ms));
	(async function () {
		await sleep(1000);
		let bottom = document.body.scrollHeight;
		for (let i = 0; i < bottom; i += 349) {
			window.scrollTo(0, i);
			await sleep(200);
			bottom = document.body.scrollHeight;
		}
		for (let i = bottom; i >= 0; i -= 683) {
			window.scrollTo(0, i);
			await sleep(200);
		}
		await sleep(1000);
		const marker = document.createElement("DIV");
		marker.id = "` + MarkerScrolling + `";
		document.body.appendChild(marker);
	}());
}`

const blobToDataURLScript = `() => {
	const readAsDataURL = (blob) => new Promise((resolve) => {
		const reader = new FileReader();
		reader.onload = (e) => resolve(e.target.result);
		reader.readAsDataURL(blob);
	});
	(async function () {
		for (const img of document.getElementsByTagName("img")) {
			if (!img.src || !img.src.startsWith("blob:")) {
				continue;
			}
			try {
				const data = await (await fetch(img.src)).arrayBuffer();
				img.src = await readAsDataURL(new Blob([data], {type: "image/png"}));
			} catch (e) {
				console.log("blob conversion failed", e);
			}
		}
		const marker = document.createElement("DIV");
		marker.id = "` + MarkerBlob + `";
		document.body.appendChild(marker);
	}());
}`

const fingerprintHintsScript = `() => {
	Object.defineProperty(navigator, "plugins", {get: function () { return [1, 2, 3, 4, 5]; }});
	Object.defineProperty(navigator, "languages", {get: function () { return ["ko-KR", "ko"]; }});
}`

const outerHTMLScript = `() => document.documentElement.outerHTML`

// postLoadScript is one script run after the page has loaded. Marker is
// empty for synchronous scripts.
type postLoadScript struct {
	Name   string
	Source string
	Marker string
}

// postLoadScripts lists the scripts req asks for, in execution order.
func postLoadScripts(req RenderRequest) []postLoadScript {
	var scripts []postLoadScript
	if req.CopyImagesFromCanvas {
		scripts = append(scripts, postLoadScript{Name: "canvas", Source: canvasToImagesScript, Marker: MarkerCanvas})
	}
	if req.SimulateScrolling {
		scripts = append(scripts, postLoadScript{Name: "scrolling", Source: scrollingScript, Marker: MarkerScrolling})
	}
	if req.BlobToDataURL {
		scripts = append(scripts, postLoadScript{Name: "blob", Source: blobToDataURLScript, Marker: MarkerBlob})
	}
	return append(scripts, postLoadScript{Name: "hints", Source: fingerprintHintsScript})
}
